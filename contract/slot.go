package contract

import "sync/atomic"

// slot is one entry in a Group's fixed array. Mutation is confined to
// atomic operations on state and generation plus the selection
// bitset; the callable field is only touched by the single caller
// that currently owns the slot (CreateContract's caller while
// Allocated, the selecting worker once Executing), so it needs no
// atomic wrapper of its own.
type slot struct {
	state      atomic.Int32
	generation atomic.Uint32
	kind       Kind
	callable   Callable
}

func (s *slot) cas(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *slot) load() State {
	return State(s.state.Load())
}
