package graph

import (
	"container/heap"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geenz/workcore/contract"
	"github.com/geenz/workcore/handle"
	"github.com/geenz/workcore/internal/obs"
)

// Graph is a DAG of nodes bound to exactly one Work Contract Group at
// construction. Ready nodes (pendingDeps == 0, graph not suspended)
// are submitted into the group as regular contracts; a shim wrapping
// each node's callable performs Done accounting and successor
// propagation after it runs.
type Graph struct {
	id      string
	cfg     Config
	group   *contract.Group
	ownerID handle.OwnerID
	log     zerolog.Logger

	buildMu  sync.Mutex
	nodes    []*node
	executed atomic.Bool

	suspended atomic.Bool
	withheldMu sync.Mutex
	withheld   []*node

	timedMu     sync.Mutex
	timed       deferredHeap
	timerActive bool
	timerWake   chan struct{}

	doneCount   atomic.Int32
	failedCount atomic.Int32
	total       atomic.Int32

	failedMu sync.Mutex
	failed   []NodeInfo

	waitMu   sync.Mutex
	waitCond *sync.Cond
}

// New constructs a Graph bound to group.
func New(group *contract.Group, cfg Config) *Graph {
	g := &Graph{
		id:        uuid.NewString(),
		cfg:       cfg,
		group:     group,
		ownerID:   handle.NewOwnerID(),
		log:       obs.WithComponent("graph"),
		timerWake: make(chan struct{}, 1),
	}
	if cfg.ExpectedNodeCount > 0 {
		g.nodes = make([]*node, 0, cfg.ExpectedNodeCount)
	}
	g.waitCond = sync.NewCond(&g.waitMu)

	handle.Default().Register(g.ownerID, handle.Resolver{
		Validate: g.validate,
		Resolve:  g.resolve,
	})
	return g
}

func (g *Graph) validate(index, generation uint32) bool {
	g.buildMu.Lock()
	defer g.buildMu.Unlock()
	return int(index) < len(g.nodes) && generation == 1
}

func (g *Graph) resolve(index, generation uint32) any {
	if !g.validate(index, generation) {
		return nil
	}
	g.buildMu.Lock()
	defer g.buildMu.Unlock()
	return g.nodes[index]
}

func (g *Graph) makeHandle(index uint32) NodeHandle {
	return NodeHandle{h: handle.Handle{
		Owner:      g.ownerID,
		Index:      index,
		Generation: 1,
		Type:       handle.TypeGraphNode,
	}}
}

func (g *Graph) nodeFor(nh NodeHandle) (*node, bool) {
	if nh.h.Owner != g.ownerID {
		return nil, false
	}
	g.buildMu.Lock()
	defer g.buildMu.Unlock()
	if int(nh.h.Index) >= len(g.nodes) {
		return nil, false
	}
	return g.nodes[nh.h.Index], true
}

// AddNode appends a regular (non-yieldable) node to the graph. It
// panics if called after Execute, matching the construction-is-
// quiescent assumption cycle detection relies on.
func (g *Graph) AddNode(callable RegularFunc, name string, userdata any, kind Kind) NodeHandle {
	return g.addNode(name, userdata, kind, false, 0, callable, nil)
}

// AddYieldableNode appends a node whose callable cooperatively
// suspends via Result instead of blocking a worker.
func (g *Graph) AddYieldableNode(fn YieldableFunc, name string, userdata any, kind Kind, maxRetries int) NodeHandle {
	return g.addNode(name, userdata, kind, true, maxRetries, nil, fn)
}

func (g *Graph) addNode(name string, userdata any, kind Kind, yieldable bool, maxRetries int, regular RegularFunc, yfn YieldableFunc) NodeHandle {
	if g.executed.Load() {
		panic("graph: cannot add a node after Execute has run")
	}
	g.buildMu.Lock()
	defer g.buildMu.Unlock()

	n := &node{
		index:       uint32(len(g.nodes)),
		name:        name,
		userdata:    userdata,
		kind:        kind,
		isYieldable: yieldable,
		maxRetries:  maxRetries,
		regular:     regular,
		yieldable:   yfn,
	}
	n.storeState(Pending)
	g.nodes = append(g.nodes, n)
	g.total.Add(1)
	return g.makeHandle(n.index)
}

// AddContinuation is sugar for AddNode followed by AddDependency
// against every predecessor — a fan-in node that becomes Ready once
// all predecessors are Done.
func (g *Graph) AddContinuation(predecessors []NodeHandle, callable RegularFunc, name string, kind Kind) NodeHandle {
	nh := g.AddNode(callable, name, nil, kind)
	for _, p := range predecessors {
		g.AddDependency(p, nh)
	}
	return nh
}

// AddDependency records that `to` depends on `from` (from must
// complete before to becomes Ready). It rejects edges that would
// close a cycle or that arrive after Execute has run.
func (g *Graph) AddDependency(from, to NodeHandle) DependencyResult {
	if g.executed.Load() {
		return DependencyGraphAlreadyExecuted
	}
	fromNode, ok := g.nodeFor(from)
	if !ok {
		return DependencyInvalidHandle
	}
	toNode, ok := g.nodeFor(to)
	if !ok {
		return DependencyInvalidHandle
	}

	g.buildMu.Lock()
	defer g.buildMu.Unlock()

	if g.reachableLocked(toNode.index, fromNode.index) {
		return DependencyWouldCreateCycle
	}

	fromNode.successors = append(fromNode.successors, toNode.index)
	toNode.dependents = append(toNode.dependents, fromNode.index)
	toNode.pendingDeps.Add(1)
	return DependencyAdded
}

// reachableLocked runs a bounded DFS from start over outgoing edges
// looking for target; O(E) and safe only while the graph is
// quiescent during construction (buildMu held by the caller).
func (g *Graph) reachableLocked(start, target uint32) bool {
	if start == target {
		return true
	}
	visited := make(map[uint32]bool)
	stack := []uint32{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == target {
			return true
		}
		for _, s := range g.nodes[cur].successors {
			if !visited[s] {
				stack = append(stack, s)
			}
		}
	}
	return false
}

// Execute marks all zero-in-degree nodes Ready and submits them into
// the group. It is idempotent after the first call.
func (g *Graph) Execute() {
	if !g.executed.CompareAndSwap(false, true) {
		return
	}
	g.buildMu.Lock()
	entries := make([]*node, 0)
	for _, n := range g.nodes {
		if n.pendingDeps.Load() == 0 {
			entries = append(entries, n)
		}
	}
	g.buildMu.Unlock()

	for _, n := range entries {
		g.readyNode(n)
	}
}

// readyNode transitions n to Ready and either submits it (graph not
// suspended) or withholds it until Resume.
func (g *Graph) readyNode(n *node) {
	n.storeState(Ready)
	if g.suspended.Load() {
		g.withheldMu.Lock()
		g.withheld = append(g.withheld, n)
		g.withheldMu.Unlock()
		return
	}
	g.submit(n)
}

// submit wraps n's callable in the Done-accounting shim and schedules
// it into the group.
func (g *Graph) submit(n *node) {
	n.storeState(Scheduled)
	h, err := g.group.CreateContract(g.shimFor(n), n.kind)
	if err != nil {
		// The group is at capacity; treat exactly like a callable
		// failure so the graph still converges instead of wedging.
		g.onNodeFailed(n, fmt.Errorf("graph: submitting node %q: %w", n.name, err))
		return
	}
	g.group.Schedule(h)
}

func (g *Graph) shimFor(n *node) contract.Callable {
	return func() {
		n.storeState(Running)
		if n.isYieldable {
			g.runYieldable(n)
			return
		}
		g.runRegular(n)
	}
}

func (g *Graph) runRegular(n *node) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Str("node", n.name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("node callable panicked")
			g.onNodeFailed(n, fmt.Errorf("graph: node %q panicked: %v", n.name, r))
		}
	}()
	n.regular(n.userdata)
	g.onNodeDone(n)
}

func (g *Graph) runYieldable(n *node) {
	var result Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = Fail(fmt.Errorf("graph: node %q panicked: %v", n.name, r))
			}
		}()
		result = n.yieldable(n.userdata)
	}()

	switch result.kind {
	case kComplete:
		g.onNodeDone(n)
	case kYield:
		retries := n.retryCount.Add(1)
		if retries >= int32(n.maxRetries) {
			g.onNodeFailed(n, ErrMaxRetriesExceeded)
			return
		}
		n.storeState(Scheduled)
		g.submit(n)
	case kYieldUntil:
		n.deadline = result.deadline
		n.storeState(Yielded)
		if !g.enqueueDeferred(n) {
			g.onNodeFailed(n, ErrDeferredQueueFull)
		}
	case kFail:
		g.onNodeFailed(n, result.err)
	}
}

func (g *Graph) enqueueDeferred(n *node) bool {
	g.timedMu.Lock()
	if g.cfg.MaxDeferredNodes > 0 && len(g.timed) >= g.cfg.MaxDeferredNodes {
		g.timedMu.Unlock()
		return false
	}
	heap.Push(&g.timed, n)
	becameEarliest := g.timed[0] == n
	needTimer := !g.timerActive
	if needTimer {
		g.timerActive = true
	}
	g.timedMu.Unlock()

	if needTimer {
		go g.timerLoop()
	} else if becameEarliest {
		// A running timerLoop captured some other node's deadline
		// before this push; nudge it to re-read the heap minimum
		// instead of sleeping out its now-stale wait.
		select {
		case g.timerWake <- struct{}{}:
		default:
		}
	}
	return true
}

// timerLoop sleeps exactly until the next deadline in the heap,
// processes every node whose deadline has passed, and exits once the
// heap drains instead of polling — the mechanism behind the "zero CPU
// while parked" requirement. A wake on timerWake interrupts the sleep
// early whenever enqueueDeferred pushes a new earliest deadline.
func (g *Graph) timerLoop() {
	for {
		g.timedMu.Lock()
		if len(g.timed) == 0 {
			g.timerActive = false
			g.timedMu.Unlock()
			return
		}
		next := g.timed[0].deadline
		g.timedMu.Unlock()

		wait := time.Until(next)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-g.timerWake:
			}
		} else {
			// Drain any stale wake so it doesn't short-circuit the
			// next iteration's sleep.
			select {
			case <-g.timerWake:
			default:
			}
		}
		g.ProcessDeferredNodes()
	}
}

// ProcessDeferredNodes promotes every timed-yield node whose deadline
// has elapsed back to Scheduled. The graph's timer goroutine calls it,
// and a host pumping its own frame loop may call it as well. The timer
// goroutine is always started when a node parks; there is no option
// to run deferred nodes without it.
func (g *Graph) ProcessDeferredNodes() {
	now := time.Now()
	var ready []*node

	g.timedMu.Lock()
	for len(g.timed) > 0 && !g.timed[0].deadline.After(now) {
		n := heap.Pop(&g.timed).(*node)
		ready = append(ready, n)
	}
	g.timedMu.Unlock()

	for _, n := range ready {
		if g.suspended.Load() {
			g.withheldMu.Lock()
			g.withheld = append(g.withheld, n)
			g.withheldMu.Unlock()
			continue
		}
		n.storeState(Scheduled)
		g.submit(n)
	}
}

func (g *Graph) onNodeDone(n *node) {
	n.storeState(Done)
	g.doneCount.Add(1)
	obs.GraphNodesDone.WithLabelValues(g.id).Inc()

	g.buildMu.Lock()
	successors := append([]uint32(nil), n.successors...)
	g.buildMu.Unlock()

	for _, idx := range successors {
		s := g.nodes[idx]
		if s.pendingDeps.Add(-1) == 0 {
			g.readyNode(s)
		}
	}
	g.checkComplete()
}

func (g *Graph) onNodeFailed(n *node, err error) {
	n.err = err
	n.storeState(Failed)
	g.failedCount.Add(1)
	obs.GraphNodesFailed.WithLabelValues(g.id).Inc()

	g.failedMu.Lock()
	g.failed = append(g.failed, NodeInfo{Handle: g.makeHandle(n.index), Name: n.name, Err: err})
	g.failedMu.Unlock()

	g.checkComplete()
}

func (g *Graph) checkComplete() {
	if g.doneCount.Load()+g.failedCount.Load() == g.total.Load() {
		g.waitMu.Lock()
		g.waitCond.Broadcast()
		g.waitMu.Unlock()
	}
}

// Suspend flips the graph-wide gate: nodes that become Ready while
// suspended are withheld rather than submitted. Nodes already
// Executing run to completion.
func (g *Graph) Suspend() {
	g.suspended.Store(true)
}

// Resume clears the suspend gate and submits every node that became
// Ready while suspended.
func (g *Graph) Resume() {
	g.suspended.Store(false)

	g.withheldMu.Lock()
	pending := g.withheld
	g.withheld = nil
	g.withheldMu.Unlock()

	for _, n := range pending {
		g.submit(n)
	}
}

// IsComplete reports whether every node has reached Done or Failed.
func (g *Graph) IsComplete() bool {
	return g.executed.Load() && g.doneCount.Load()+g.failedCount.Load() == g.total.Load()
}

// Wait blocks until every node is Done or Failed.
func (g *Graph) Wait() WaitResult {
	g.waitMu.Lock()
	for g.doneCount.Load()+g.failedCount.Load() != g.total.Load() {
		g.waitCond.Wait()
	}
	g.waitMu.Unlock()

	g.failedMu.Lock()
	failed := append([]NodeInfo(nil), g.failed...)
	g.failedMu.Unlock()

	return WaitResult{AllCompleted: len(failed) == 0, Failed: failed}
}

// NodeState returns a node's current lifecycle state.
func (g *Graph) NodeState(nh NodeHandle) (NodeState, bool) {
	n, ok := g.nodeFor(nh)
	if !ok {
		return 0, false
	}
	return n.loadState(), true
}

// NodeName returns a node's human-readable name.
func (g *Graph) NodeName(nh NodeHandle) (string, bool) {
	n, ok := g.nodeFor(nh)
	if !ok {
		return "", false
	}
	return n.name, true
}

// Close releases the graph's handle-registry row. It does not close
// the underlying Group, which the caller still owns.
func (g *Graph) Close() {
	handle.Default().Unregister(g.ownerID)
}
