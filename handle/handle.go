// Package handle implements the generational handle and owner registry
// described by the concurrency core: stable cross-thread references to
// scheduled work and other managed objects that fail cleanly instead of
// resolving a resurrected successor.
package handle

import (
	"sync"
	"sync/atomic"
)

// OwnerID is an abstract, pointer-sized identity for a handle owner
// (a Work Contract Group, a Graph, or any other object that vends
// handles into its own slab).
type OwnerID uintptr

var ownerSeq uint64

// NewOwnerID mints a process-unique owner identity. Callers typically
// call this once per owning object and keep the result for the
// object's lifetime.
func NewOwnerID() OwnerID {
	return OwnerID(atomic.AddUint64(&ownerSeq, 1))
}

// TypeTag distinguishes handles issued by different kinds of owners
// (a contract handle vs. a graph node handle) so that a handle of one
// type is never mistaken for another even if the numeric fields
// happen to coincide.
type TypeTag uint8

const (
	TypeUnknown TypeTag = iota
	TypeContract
	TypeGraphNode
)

// Handle is the opaque (owner, index, generation, type) quadruple
// named by the data model: a stable name for a slot that does not
// resolve once the slot has been reused.
type Handle struct {
	Owner      OwnerID
	Index      uint32
	Generation uint32
	Type       TypeTag
}

// Zero reports whether h is the zero-value handle, which never
// resolves and is never returned by a successful allocation.
func (h Handle) Zero() bool {
	return h == Handle{}
}

// Equals is a pure predicate over the full quadruple.
func (h Handle) Equals(o Handle) bool {
	return h == o
}

// TypeMatches reports whether h carries the given type tag.
func (h Handle) TypeMatches(t TypeTag) bool {
	return h.Type == t
}

// Resolver is the pair of callbacks an owner registers: Validate is a
// cheap liveness check, Resolve returns a retained reference to the
// live object (or nil when the handle is stale).
type Resolver struct {
	Validate func(index, generation uint32) bool
	Resolve  func(index, generation uint32) any
}

// Registry is the process-wide table mapping owner identity to its
// resolver pair. Registration is additive and idempotent by owner id;
// mutation is rare and serialized behind a RWMutex, lookups are safe
// concurrent reads.
type Registry struct {
	mu     sync.RWMutex
	owners map[OwnerID]Resolver
}

// NewRegistry constructs an empty registry. Most programs use the
// process-wide Default() instance instead of constructing their own,
// but tests benefit from an isolated one.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[OwnerID]Resolver)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Work Contract
// Groups and Graphs unless they are explicitly constructed against a
// private Registry.
func Default() *Registry { return defaultRegistry }

// Register installs the resolver pair for owner. Calling Register
// again for an owner that is already registered replaces its resolver
// pair; this keeps registration idempotent for re-entrant setup code.
func (r *Registry) Register(owner OwnerID, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[owner] = res
}

// Unregister removes owner's row. After this returns, no handle
// naming that owner resolves or validates as true.
func (r *Registry) Unregister(owner OwnerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, owner)
}

func (r *Registry) lookup(owner OwnerID) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.owners[owner]
	return res, ok
}

// IsValid reports whether h names a live slot: its owner must still
// be registered and the owner's Validate callback must accept the
// stored (index, generation) pair. A missing owner row yields false
// rather than a panic.
func (r *Registry) IsValid(h Handle) bool {
	if h.Zero() {
		return false
	}
	res, ok := r.lookup(h.Owner)
	if !ok || res.Validate == nil {
		return false
	}
	return res.Validate(h.Index, h.Generation)
}

// Resolve returns the live object named by h, or nil if h is stale or
// its owner is gone. The returned reference is retained per the
// owner's Resolve implementation; callers that need to hold it across
// a yield point should keep their own strong reference.
func (r *Registry) Resolve(h Handle) any {
	if h.Zero() {
		return nil
	}
	res, ok := r.lookup(h.Owner)
	if !ok || res.Resolve == nil {
		return nil
	}
	return res.Resolve(h.Index, h.Generation)
}
