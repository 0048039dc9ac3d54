package contract

import (
	"math/bits"
	"sync/atomic"
)

const blockBits = 64

// selector is the concurrent bitset used to publish Scheduled slots
// for one Kind and pick one for execution. Each bit corresponds to a
// slot index; a set bit means "Scheduled and not yet picked by a
// worker". Selection scans blocks starting from a rotating cursor so
// contention spreads across the bitset instead of piling onto block 0,
// and clears exactly one bit with a compare-and-swap so two
// concurrent selectors never pick the same slot.
type selector struct {
	blocks []atomic.Uint64
	cursor atomic.Uint64
}

func newSelector(capacity uint32) *selector {
	n := (int(capacity) + blockBits - 1) / blockBits
	if n == 0 {
		n = 1
	}
	return &selector{blocks: make([]atomic.Uint64, n)}
}

// publish marks index as Scheduled and available for selection.
func (s *selector) publish(index uint32) {
	block := index / blockBits
	bit := index % blockBits
	mask := uint64(1) << bit
	for {
		old := s.blocks[block].Load()
		if s.blocks[block].CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// withdraw clears index's bit without selecting it, used by
// Unschedule's best-effort Scheduled -> Allocated transition.
// Returns true if the bit was set and this call cleared it, false if
// the bit was already clear (for example because a selector picked
// the slot first).
func (s *selector) withdraw(index uint32) bool {
	block := index / blockBits
	bit := index % blockBits
	mask := uint64(1) << bit
	for {
		old := s.blocks[block].Load()
		if old&mask == 0 {
			return false
		}
		if s.blocks[block].CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

// selectOne picks and clears one set bit, returning (index, true), or
// (0, false) if the entire bitset is currently empty. It never blocks.
func (s *selector) selectOne() (uint32, bool) {
	n := uint32(len(s.blocks))
	start := uint32(s.cursor.Add(1)) % n
	for i := uint32(0); i < n; i++ {
		block := (start + i) % n
		for {
			old := s.blocks[block].Load()
			if old == 0 {
				break
			}
			// Lowest set bit: deterministic, cheap to compute, and
			// fine for fairness since the cursor already rotates the
			// starting block across callers.
			bit := uint32(bits.TrailingZeros64(old))
			mask := uint64(1) << bit
			if s.blocks[block].CompareAndSwap(old, old&^mask) {
				return block*blockBits + bit, true
			}
			// Lost the race to another selector; retry this block.
		}
	}
	return 0, false
}
