// Package graph implements the Work Graph: a DAG of nodes whose
// dependency ordering gates submission into a Work Contract Group,
// with cooperative suspension for yieldable nodes, timed yields, and
// graph-level suspend/resume.
package graph

import (
	"errors"
	"time"

	"github.com/geenz/workcore/contract"
	"github.com/geenz/workcore/handle"
)

// NodeState is a node's position in the lifecycle described by the
// data model.
type NodeState int32

const (
	Pending NodeState = iota
	Ready
	Scheduled
	Running
	Yielded
	Done
	Failed
)

func (s NodeState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Yielded:
		return "yielded"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NodeHandle names a node in exactly one Graph. It is a thin wrapper
// over the shared handle.Handle quadruple so node identity is
// resolvable through the same generational-safety machinery as
// contract handles, with its own type tag.
type NodeHandle struct {
	h handle.Handle
}

// Zero reports whether the handle names no node.
func (n NodeHandle) Zero() bool { return n.h.Zero() }

// DependencyResult is returned by AddDependency.
type DependencyResult int

const (
	DependencyAdded DependencyResult = iota
	DependencyWouldCreateCycle
	DependencyInvalidHandle
	DependencyGraphAlreadyExecuted
)

var (
	ErrMaxRetriesExceeded = errors.New("graph: yieldable node exceeded max retries")
	ErrDeferredQueueFull  = errors.New("graph: deferred queue is full")
	ErrGraphAlreadyExecuted = errors.New("graph: execute has already run")
	ErrUnknownNode        = errors.New("graph: unknown node handle")
)

// resultKind is the yieldable callable's sum-type tag.
type resultKind int

const (
	kComplete resultKind = iota
	kYield
	kYieldUntil
	kFail
)

// Result is the sum type a yieldable node's callable returns: exactly
// one of Complete, Yield, YieldUntil(deadline), or Fail(err).
type Result struct {
	kind     resultKind
	deadline time.Time
	err      error
}

// Complete reports the node finished normally.
func Complete() Result { return Result{kind: kComplete} }

// Yield asks the graph to re-schedule the node immediately, counting
// against its maxRetries budget.
func Yield() Result { return Result{kind: kYield} }

// YieldUntil asks the graph to park the node with zero CPU cost until
// the monotonic clock passes deadline, then re-schedule it. It does
// not count against maxRetries.
func YieldUntil(deadline time.Time) Result { return Result{kind: kYieldUntil, deadline: deadline} }

// Fail reports the node failed; its successors stay Pending forever.
func Fail(err error) Result { return Result{kind: kFail, err: err} }

// YieldableFunc is a yieldable node's callable.
type YieldableFunc func(userdata any) Result

// RegularFunc is a plain node's callable.
type RegularFunc func(userdata any)

// NodeInfo names a node in a failure report.
type NodeInfo struct {
	Handle NodeHandle
	Name   string
	Err    error
}

// Result2... kept out: wait() returns WaitResult to avoid colliding
// with the yieldable Result type above.
type WaitResult struct {
	AllCompleted bool
	Failed       []NodeInfo
}

// Config toggles optional Graph machinery.
type Config struct {
	ExpectedNodeCount int
	// MaxDeferredNodes bounds the timed-yield requeue queue; 0 means
	// unbounded.
	MaxDeferredNodes int
}

// Kind re-exports contract.Kind so callers of this package rarely need
// to import contract directly just to name AnyThread/MainThread.
type Kind = contract.Kind

const (
	AnyThread  = contract.AnyThread
	MainThread = contract.MainThread
)
