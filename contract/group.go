package contract

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/geenz/workcore/handle"
	"github.com/geenz/workcore/internal/obs"
)

// FailureHook is invoked when a contract's callable panics. The group
// itself never retries a regular contract; the hook exists purely for
// host-application observability.
type FailureHook func(h handle.Handle, kind Kind, recovered any)

// Group is the fixed-capacity slab of schedulable work slots
// described by the data model: lock-minimal creation/scheduling/
// selection, with accounting counters a caller can poll or block on.
type Group struct {
	name     string
	ownerID  handle.OwnerID
	registry *handle.Registry
	log      zerolog.Logger

	slots []slot
	free  chan uint32

	selectors [kindCount]*selector

	activeCount    atomic.Int64
	scheduledByKind [kindCount]atomic.Int64
	executingByKind [kindCount]atomic.Int64

	waitMu   sync.Mutex
	waitCond *sync.Cond

	failureHook atomic.Pointer[FailureHook]

	detachMu  sync.Mutex
	detachers []func()

	notify atomic.Pointer[func()]

	closed atomic.Bool
}

// Option configures a Group at construction.
type Option func(*Group)

// WithName attaches a human-readable name used in logs and metrics
// labels.
func WithName(name string) Option {
	return func(g *Group) { g.name = name }
}

// WithRegistry overrides the process-wide default handle registry,
// primarily for test isolation.
func WithRegistry(r *handle.Registry) Option {
	return func(g *Group) { g.registry = r }
}

// NewGroup constructs a Group with the given slot capacity.
func NewGroup(capacity uint32, opts ...Option) *Group {
	if capacity == 0 {
		panic("contract: capacity must be > 0")
	}
	g := &Group{
		ownerID:  handle.NewOwnerID(),
		registry: handle.Default(),
		slots:    make([]slot, capacity),
		free:     make(chan uint32, capacity),
	}
	for i := range g.selectors {
		g.selectors[i] = newSelector(capacity)
	}
	for i := uint32(0); i < capacity; i++ {
		g.slots[i].generation.Store(1)
		g.free <- i
	}
	g.waitCond = sync.NewCond(&g.waitMu)

	for _, opt := range opts {
		opt(g)
	}
	if g.name == "" {
		g.name = "group"
	}
	g.log = obs.WithComponent("contract").With().Str("group", g.name).Logger()

	g.registry.Register(g.ownerID, handle.Resolver{
		Validate: g.validate,
		Resolve:  g.resolve,
	})
	return g
}

// Capacity returns the fixed slot count chosen at construction.
func (g *Group) Capacity() int { return len(g.slots) }

// Name returns the group's human-readable label, used in logs and
// metrics.
func (g *Group) Name() string { return g.name }

// SetFailureHook installs the hook invoked on a recovered callable
// panic. Passing nil clears it.
func (g *Group) SetFailureHook(hook FailureHook) {
	if hook == nil {
		g.failureHook.Store(nil)
		return
	}
	g.failureHook.Store(&hook)
}

func (g *Group) validate(index, generation uint32) bool {
	if int(index) >= len(g.slots) {
		return false
	}
	return g.slots[index].generation.Load() == generation
}

func (g *Group) resolve(index, generation uint32) any {
	if !g.validate(index, generation) {
		return nil
	}
	return &g.slots[index]
}

// CreateContract allocates a Free slot for callable, returning a
// handle that names it. It returns ErrCapacityExceeded if every slot
// is currently Allocated, Scheduled, or reserved by an in-flight
// selection.
func (g *Group) CreateContract(callable Callable, kind Kind) (handle.Handle, error) {
	var index uint32
	select {
	case index = <-g.free:
	default:
		return handle.Handle{}, ErrCapacityExceeded
	}

	s := &g.slots[index]
	s.callable = callable
	s.kind = kind
	s.state.Store(int32(Allocated))
	g.activeCount.Add(1)

	return handle.Handle{
		Owner:      g.ownerID,
		Index:      index,
		Generation: s.generation.Load(),
		Type:       handle.TypeContract,
	}, nil
}

func (g *Group) checkHandle(h handle.Handle) (*slot, bool) {
	if h.Owner != g.ownerID || int(h.Index) >= len(g.slots) {
		return nil, false
	}
	s := &g.slots[h.Index]
	if s.generation.Load() != h.Generation {
		return nil, false
	}
	return s, true
}

// Schedule atomically moves h's slot from Allocated to Scheduled and
// publishes it to the selector. Concurrent redundant Schedule calls on
// the same (slot, generation) observe ScheduleAlreadyScheduled exactly
// once the first caller wins.
func (g *Group) Schedule(h handle.Handle) ScheduleResult {
	s, ok := g.checkHandle(h)
	if !ok {
		return ScheduleInvalid
	}
	if s.cas(Allocated, Scheduled) {
		g.scheduledByKind[s.kind].Add(1)
		g.selectors[s.kind].publish(h.Index)
		g.wakeOne()
		return ScheduleScheduled
	}
	if s.load() == Scheduled {
		return ScheduleAlreadyScheduled
	}
	return ScheduleNotAllocated
}

// Unschedule makes a best-effort attempt to withdraw a not-yet-selected
// contract back to Allocated. It returns false if the slot has already
// been picked by a selector (or was never Scheduled).
func (g *Group) Unschedule(h handle.Handle) bool {
	s, ok := g.checkHandle(h)
	if !ok {
		return false
	}
	if !g.selectors[s.kind].withdraw(h.Index) {
		return false
	}
	if s.cas(Scheduled, Allocated) {
		g.scheduledByKind[s.kind].Add(-1)
		return true
	}
	return false
}

// selectAndRun picks one Scheduled slot of kind, frees its storage for
// reuse immediately (the re-entrance rule), and runs its callable on
// the calling goroutine. It returns false if nothing of that kind was
// ready to run.
func (g *Group) selectAndRun(kind Kind) bool {
	index, ok := g.selectors[kind].selectOne()
	if !ok {
		return false
	}
	s := &g.slots[index]

	callable := s.callable
	s.callable = nil
	s.generation.Store(handle.NextGeneration(s.generation.Load()))
	s.state.Store(int32(Free))

	g.scheduledByKind[kind].Add(-1)
	g.executingByKind[kind].Add(1)
	g.activeCount.Add(-1)

	// The slot's storage is already back in the free pool: a
	// callable that schedules new work into this same group during
	// its own execution can immediately reuse this index (or any
	// other Free one), satisfying re-entrant fan-out up to capacity.
	g.free <- index

	func() {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error().
					Str("kind", kind.String()).
					Interface("panic", r).
					Msg("contract callable panicked; recovered")
				if hookPtr := g.failureHook.Load(); hookPtr != nil {
					(*hookPtr)(handle.Handle{Owner: g.ownerID, Index: index, Type: handle.TypeContract}, kind, r)
				}
			}
		}()
		callable()
	}()

	g.executingByKind[kind].Add(-1)
	g.signalIfQuiescent()
	return true
}

func (g *Group) signalIfQuiescent() {
	if g.ScheduledCount()+g.ExecutingCount() == 0 {
		g.waitMu.Lock()
		g.waitCond.Broadcast()
		g.waitMu.Unlock()
	}
}

// wakeOne notifies an attached Service that new work was published so
// a parked worker can wake and rotate back to this group. The Group
// has no worker threads of its own; without a Service attached this
// is a no-op and callers rely on ExecuteAllBackgroundWork /
// ExecuteAllMainThreadWork instead.
func (g *Group) wakeOne() {
	if fn := g.notify.Load(); fn != nil {
		(*fn)()
	}
}

// SetNotifyFunc installs the callback a Service uses to wake a parked
// worker when this group publishes new Scheduled work. Intended for
// use by the service package only.
func (g *Group) SetNotifyFunc(fn func()) {
	if fn == nil {
		g.notify.Store(nil)
		return
	}
	g.notify.Store(&fn)
}

// TryExecuteOne picks and runs a single Scheduled slot of kind on the
// calling goroutine, returning false if none was ready. A Service
// worker calls this once per group per rotation.
func (g *Group) TryExecuteOne(kind Kind) bool {
	return g.selectAndRun(kind)
}

// ExecuteAllBackgroundWork drains every currently Scheduled AnyThread
// slot on the calling goroutine, returning the count executed. Used
// for tests and for single-threaded hosts that never attach a
// Service.
func (g *Group) ExecuteAllBackgroundWork() int {
	n := 0
	for g.selectAndRun(AnyThread) {
		n++
	}
	return n
}

// ExecuteAllMainThreadWork drains every currently Scheduled
// MainThread slot on the calling goroutine.
func (g *Group) ExecuteAllMainThreadWork() int {
	n := 0
	for g.selectAndRun(MainThread) {
		n++
	}
	return n
}

// Wait blocks until ScheduledCount and ExecutingCount both read 0.
func (g *Group) Wait() {
	g.waitMu.Lock()
	defer g.waitMu.Unlock()
	for g.ScheduledCount()+g.ExecutingCount() != 0 {
		g.waitCond.Wait()
	}
}

// ActiveCount returns the number of slots not in the Free state.
func (g *Group) ActiveCount() int64 {
	return g.activeCount.Load()
}

// ScheduledCount returns the total Scheduled slots across both kinds.
func (g *Group) ScheduledCount() int64 {
	return g.scheduledByKind[AnyThread].Load() + g.scheduledByKind[MainThread].Load()
}

// ExecutingCount returns the total Executing slots across both kinds.
func (g *Group) ExecutingCount() int64 {
	return g.executingByKind[AnyThread].Load() + g.executingByKind[MainThread].Load()
}

// MainThreadScheduledCount mirrors ScheduledCount restricted to Kind
// MainThread.
func (g *Group) MainThreadScheduledCount() int64 {
	return g.scheduledByKind[MainThread].Load()
}

// MainThreadExecutingCount mirrors ExecutingCount restricted to Kind
// MainThread.
func (g *Group) MainThreadExecutingCount() int64 {
	return g.executingByKind[MainThread].Load()
}

// HasAnyThreadWork reports whether at least one AnyThread slot is
// currently Scheduled, without committing to a selection.
func (g *Group) HasAnyThreadWork() bool {
	return g.scheduledByKind[AnyThread].Load() > 0
}

// OnDetach registers a callback invoked by Close, used by Service to
// drop its retain of a Group without re-releasing an object that is
// already being torn down.
func (g *Group) OnDetach(fn func()) {
	g.detachMu.Lock()
	defer g.detachMu.Unlock()
	g.detachers = append(g.detachers, fn)
}

// Close notifies every attached Service so it drops its retain, then
// unregisters the group's handle owner. Go has no deterministic
// destructors, so callers that would rely on a C++-style destructor
// firing on scope exit must call Close explicitly: a Group that is
// dropped without a prior RemoveWorkContractGroup call still gets
// detached cleanly as long as Close runs.
func (g *Group) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.detachMu.Lock()
	detachers := g.detachers
	g.detachers = nil
	g.detachMu.Unlock()

	for _, fn := range detachers {
		fn()
	}
	g.registry.Unregister(g.ownerID)
}
