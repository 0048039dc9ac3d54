package graph

import (
	"sync/atomic"
	"time"
)

// node is one entry in a Graph's append-only table. Its callable
// fields are immutable after construction. While the graph runs,
// pendingDeps is decremented atomically as predecessors complete, and
// state, retryCount, deadline and err change as the node itself runs,
// yields or fails.
type node struct {
	index       uint32
	name        string
	userdata    any
	kind        Kind
	isYieldable bool
	maxRetries  int

	regular   RegularFunc
	yieldable YieldableFunc

	successors []uint32 // outgoing: nodes that depend on this one
	dependents []uint32 // incoming: nodes this one depends on

	pendingDeps atomic.Int32
	state       atomic.Int32
	retryCount  atomic.Int32

	// deadline is set while the node sits in the timed-deferred heap
	// waiting out a YieldUntil.
	deadline time.Time

	err error
}

func (n *node) loadState() NodeState { return NodeState(n.state.Load()) }
func (n *node) storeState(s NodeState) { n.state.Store(int32(s)) }

func (n *node) casState(from, to NodeState) bool {
	return n.state.CompareAndSwap(int32(from), int32(to))
}
