// Package service implements the Work Service: a bounded thread pool
// that drains one or more Work Contract Groups under a fair,
// round-robin rotation, plus a caller-driven main-thread drain API.
package service

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geenz/workcore/contract"
	"github.com/geenz/workcore/internal/obs"
)

// Config controls a Service's worker pool.
type Config struct {
	// ThreadCount is the number of worker goroutines. 0 auto-detects
	// hardware concurrency via runtime.NumCPU.
	ThreadCount int
	// NamePrefix is a label for the pool, defaulting to "workcore". It
	// is stored in the config only: worker goroutines have no logger or
	// name of their own, so it appears on no log line.
	NamePrefix string
	// ShutdownDeadline bounds how long Stop waits for in-flight
	// callables to finish before detaching without an abort.
	ShutdownDeadline time.Duration
}

// AddResult is returned by AddWorkContractGroup.
type AddResult int

const (
	Added AddResult = iota
	Exists
)

// RemoveResult is returned by RemoveWorkContractGroup.
type RemoveResult int

const (
	Removed RemoveResult = iota
	NotFound
)

// Service drives attached groups with a fixed worker pool, rotating
// round-robin across them on every selection attempt so no one group
// starves the others.
type Service struct {
	cfg Config
	log zerolog.Logger

	mu     sync.RWMutex
	groups []*contract.Group

	wakeMu sync.Mutex
	wakeCh chan struct{}

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Service. Call Start to spin up its worker pool.
func New(cfg Config) *Service {
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = runtime.NumCPU()
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "workcore"
	}
	s := &Service{
		cfg:    cfg,
		log:    obs.WithComponent("service"),
		wakeCh: make(chan struct{}),
	}
	return s
}

// GetThreadCount returns the configured worker count.
func (s *Service) GetThreadCount() int { return s.cfg.ThreadCount }

// GetWorkContractGroupCount returns the number of currently attached
// groups.
func (s *Service) GetWorkContractGroupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

// AddWorkContractGroup retains g and registers it as a work provider.
// Adding the same group twice returns Exists without side effects.
func (s *Service) AddWorkContractGroup(g *contract.Group) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing == g {
			return Exists
		}
	}
	s.groups = append(s.groups, g)
	g.SetNotifyFunc(s.wakeAll)
	g.OnDetach(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removeLocked(g)
	})
	s.log.Info().Str("group", g.Name()).Msg("group attached")
	return Added
}

// RemoveWorkContractGroup unregisters g and drops the Service's
// retain. It returns NotFound if g was never attached.
func (s *Service) RemoveWorkContractGroup(g *contract.Group) RemoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeLocked(g) {
		return NotFound
	}
	return Removed
}

// removeLocked assumes s.mu is held by the caller and reports whether
// g was found.
func (s *Service) removeLocked(g *contract.Group) bool {
	for i, existing := range s.groups {
		if existing == g {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			s.log.Info().Str("group", g.Name()).Msg("group detached")
			return true
		}
	}
	return false
}

// Clear detaches every attached group.
func (s *Service) Clear() {
	s.mu.Lock()
	groups := s.groups
	s.groups = nil
	s.mu.Unlock()
	for _, g := range groups {
		s.log.Info().Str("group", g.Name()).Msg("group detached")
	}
}

// wakeAll closes the current wake channel (broadcasting to every
// parked worker) and installs a fresh one. A worker may wake up to
// find nothing scheduled; that spurious wakeup is harmless since it
// just falls through to another park.
func (s *Service) wakeAll() {
	s.wakeMu.Lock()
	old := s.wakeCh
	s.wakeCh = make(chan struct{})
	s.wakeMu.Unlock()
	close(old)
}

func (s *Service) wakeChan() chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	return s.wakeCh
}

// Start spins up the configured number of worker goroutines.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	for i := 0; i < s.cfg.ThreadCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}
	s.log.Info().Int("threads", s.cfg.ThreadCount).Msg("service started")
}

// Stop signals every worker to stop picking new work, then waits up
// to ShutdownDeadline for in-flight callables to finish before
// returning. Overshooting the deadline logs a warning and detaches
// without aborting any running goroutine.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wakeAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.cfg.ShutdownDeadline <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownDeadline):
		s.log.Warn().Dur("deadline", s.cfg.ShutdownDeadline).Msg("shutdown deadline exceeded; detaching workers")
	}
}

// snapshotGroups returns the current attached-group slice under the
// read lock, cheap enough to call on every rotation since adds/removes
// are rare compared to selection attempts.
func (s *Service) snapshotGroups() []*contract.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contract.Group, len(s.groups))
	copy(out, s.groups)
	return out
}

func (s *Service) workerLoop(id int) {
	defer s.wg.Done()
	cursor := id

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		groups := s.snapshotGroups()
		if len(groups) == 0 {
			s.park()
			continue
		}

		found := false
		for i := 0; i < len(groups); i++ {
			g := groups[(cursor+i)%len(groups)]
			if g.TryExecuteOne(contract.AnyThread) {
				cursor = (cursor + i + 1) % len(groups)
				found = true
				break
			}
		}
		if !found {
			cursor = (cursor + 1) % len(groups)
			s.park()
		}
	}
}

// park waits for a schedule notification, a stop signal, or a bounded
// timeout so a worker never busy-spins while every group is empty.
// The timeout is a safety net against a missed wakeup race, not the
// primary signal path.
func (s *Service) park() {
	select {
	case <-s.wakeChan():
	case <-s.stopCh:
	case <-time.After(50 * time.Millisecond):
	}
}

// HasMainThreadWork reports whether any attached group currently has
// Scheduled MainThread work.
func (s *Service) HasMainThreadWork() bool {
	for _, g := range s.snapshotGroups() {
		if g.MainThreadScheduledCount() > 0 {
			return true
		}
	}
	return false
}

// MainThreadDrainResult aggregates a main-thread drain across all
// attached groups.
type MainThreadDrainResult struct {
	ContractsExecuted int
	GroupsWithWork    int
}

// ExecuteMainThreadWork drains main-thread queues across every
// attached group on the calling goroutine. budget, if > 0, caps the
// total number of contracts executed across all groups in this call.
func (s *Service) ExecuteMainThreadWork(budget int) MainThreadDrainResult {
	var result MainThreadDrainResult
	for _, g := range s.snapshotGroups() {
		executedHere := 0
		for budget <= 0 || result.ContractsExecuted < budget {
			if !g.TryExecuteOne(contract.MainThread) {
				break
			}
			executedHere++
			result.ContractsExecuted++
		}
		if executedHere > 0 {
			result.GroupsWithWork++
		}
	}
	return result
}
