package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geenz/workcore/contract"
)

func TestServiceDrainsAttachedGroup(t *testing.T) {
	s := New(Config{ThreadCount: 2})
	g := contract.NewGroup(32, contract.WithName("svc-drain"))
	defer g.Close()

	require.Equal(t, Added, s.AddWorkContractGroup(g))
	require.Equal(t, Exists, s.AddWorkContractGroup(g))
	assert.Equal(t, 1, s.GetWorkContractGroupCount())

	s.Start()
	defer s.Stop()

	var done atomic.Int32
	for i := 0; i < 32; i++ {
		h, err := g.CreateContract(func() { done.Add(1) }, contract.AnyThread)
		require.NoError(t, err)
		g.Schedule(h)
	}

	require.Eventually(t, func() bool {
		return done.Load() == 32
	}, 2*time.Second, 5*time.Millisecond)

	g.Wait()
}

func TestServiceNeverRunsMainThreadWorkOnWorker(t *testing.T) {
	s := New(Config{ThreadCount: 4})
	g := contract.NewGroup(8, contract.WithName("svc-main"))
	defer g.Close()
	s.AddWorkContractGroup(g)
	s.Start()
	defer s.Stop()

	var mainRan atomic.Bool
	h, err := g.CreateContract(func() { mainRan.Store(true) }, contract.MainThread)
	require.NoError(t, err)
	g.Schedule(h)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, mainRan.Load())

	result := s.ExecuteMainThreadWork(0)
	assert.Equal(t, 1, result.ContractsExecuted)
	assert.Equal(t, 1, result.GroupsWithWork)
	assert.True(t, mainRan.Load())
}

func TestGroupAutoDetachOnClose(t *testing.T) {
	s := New(Config{ThreadCount: 1})
	s.Start()
	defer s.Stop()

	func() {
		g := contract.NewGroup(4, contract.WithName("stack-alloc"))
		s.AddWorkContractGroup(g)
		require.Equal(t, 1, s.GetWorkContractGroupCount())
		g.Close() // no prior RemoveWorkContractGroup call
	}()

	assert.Eventually(t, func() bool {
		return s.GetWorkContractGroupCount() == 0
	}, time.Second, time.Millisecond)
}

func TestServiceClearDetachesAll(t *testing.T) {
	s := New(Config{ThreadCount: 1})
	g1 := contract.NewGroup(4, contract.WithName("g1"))
	g2 := contract.NewGroup(4, contract.WithName("g2"))
	defer g1.Close()
	defer g2.Close()

	s.AddWorkContractGroup(g1)
	s.AddWorkContractGroup(g2)
	assert.Equal(t, 2, s.GetWorkContractGroupCount())

	s.Clear()
	assert.Equal(t, 0, s.GetWorkContractGroupCount())
}

func TestRemoveWorkContractGroupNotFound(t *testing.T) {
	s := New(Config{ThreadCount: 1})
	g := contract.NewGroup(2, contract.WithName("orphan"))
	defer g.Close()
	assert.Equal(t, NotFound, s.RemoveWorkContractGroup(g))
}
