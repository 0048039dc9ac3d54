package contract

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectorPublishAndSelectOne(t *testing.T) {
	s := newSelector(200)
	s.publish(5)
	s.publish(130)

	seen := map[uint32]bool{}
	for i := 0; i < 2; i++ {
		idx, ok := s.selectOne()
		assert.True(t, ok)
		seen[idx] = true
	}
	assert.True(t, seen[5])
	assert.True(t, seen[130])

	_, ok := s.selectOne()
	assert.False(t, ok)
}

func TestSelectorWithdraw(t *testing.T) {
	s := newSelector(64)
	s.publish(10)
	assert.True(t, s.withdraw(10))
	assert.False(t, s.withdraw(10))

	_, ok := s.selectOne()
	assert.False(t, ok)
}

func TestSelectorConcurrentSelectNeverDoubleSelects(t *testing.T) {
	const n = 1000
	s := newSelector(n)
	for i := uint32(0); i < n; i++ {
		s.publish(i)
	}

	var mu sync.Mutex
	seen := make(map[uint32]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx, ok := s.selectOne()
				if !ok {
					return
				}
				mu.Lock()
				seen[idx]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for _, count := range seen {
		assert.Equal(t, 1, count)
	}
}
