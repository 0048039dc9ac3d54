package contract

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geenz/workcore/handle"
)

func TestCreateScheduleExecuteQuiesces(t *testing.T) {
	g := NewGroup(8, WithName("t1"))
	defer g.Close()

	var ran atomic.Int32
	h, err := g.CreateContract(func() { ran.Add(1) }, AnyThread)
	require.NoError(t, err)

	res := g.Schedule(h)
	assert.Equal(t, ScheduleScheduled, res)

	n := g.ExecuteAllBackgroundWork()
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), ran.Load())

	g.Wait()
	assert.Equal(t, int64(0), g.ActiveCount())
	assert.Equal(t, int64(0), g.ScheduledCount())
	assert.Equal(t, int64(0), g.ExecutingCount())
}

func TestCapacityExceeded(t *testing.T) {
	g := NewGroup(2, WithName("t2"))
	defer g.Close()

	_, err := g.CreateContract(func() {}, AnyThread)
	require.NoError(t, err)
	_, err = g.CreateContract(func() {}, AnyThread)
	require.NoError(t, err)
	_, err = g.CreateContract(func() {}, AnyThread)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestScheduleIsLinearizablePerSlot(t *testing.T) {
	g := NewGroup(4, WithName("t3"))
	defer g.Close()

	h, err := g.CreateContract(func() {}, AnyThread)
	require.NoError(t, err)

	const callers = 16
	var scheduledCount, alreadyCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			switch g.Schedule(h) {
			case ScheduleScheduled:
				scheduledCount.Add(1)
			case ScheduleAlreadyScheduled:
				alreadyCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), scheduledCount.Load())
	assert.Equal(t, int32(callers-1), alreadyCount.Load())

	g.ExecuteAllBackgroundWork()
	g.Wait()
}

func TestReentrantFanOut(t *testing.T) {
	g := NewGroup(8, WithName("fanout"))
	defer g.Close()

	var created, executed atomic.Int32

	var parent Callable
	parent = func() {
		for i := 0; i < 8; i++ {
			h, err := g.CreateContract(func() {
				executed.Add(1)
			}, AnyThread)
			if err != nil {
				continue
			}
			created.Add(1)
			g.Schedule(h)
		}
	}

	h, err := g.CreateContract(parent, AnyThread)
	require.NoError(t, err)
	g.Schedule(h)

	// The parent's own slot frees immediately on selection, so all 8
	// children fit within capacity 8 even though the parent is still
	// "in flight" from the caller's perspective.
	total := 0
	for {
		n := g.ExecuteAllBackgroundWork()
		total += n
		if n == 0 {
			break
		}
	}

	assert.Equal(t, int32(8), created.Load())
	assert.Equal(t, int32(8), executed.Load())

	g.Wait()
	assert.Equal(t, int64(0), g.ActiveCount())
	assert.Equal(t, int64(0), g.ScheduledCount())
	assert.Equal(t, int64(0), g.ExecutingCount())
}

func TestBinaryRecursion(t *testing.T) {
	g := NewGroup(128, WithName("recursion"))
	defer g.Close()

	var created, executed atomic.Int32
	const maxDepth = 3

	var spawn func(depth int)
	spawn = func(depth int) {
		executed.Add(1)
		if depth >= maxDepth {
			return
		}
		for i := 0; i < 2; i++ {
			d := depth + 1
			h, err := g.CreateContract(func() { spawn(d) }, AnyThread)
			require.NoError(t, err)
			created.Add(1)
			g.Schedule(h)
		}
	}

	h, err := g.CreateContract(func() { spawn(0) }, AnyThread)
	require.NoError(t, err)
	g.Schedule(h)

	for {
		if g.ExecuteAllBackgroundWork() == 0 {
			break
		}
	}

	assert.Equal(t, created.Load(), executed.Load()-1)
	assert.LessOrEqual(t, int(executed.Load()), 15)

	g.Wait()
	assert.Equal(t, int64(0), g.ActiveCount())
	assert.Equal(t, int64(0), g.ScheduledCount())
	assert.Equal(t, int64(0), g.ExecutingCount())
}

func TestUnscheduleBestEffort(t *testing.T) {
	g := NewGroup(4, WithName("unsched"))
	defer g.Close()

	var ran atomic.Bool
	h, err := g.CreateContract(func() { ran.Store(true) }, AnyThread)
	require.NoError(t, err)

	require.Equal(t, ScheduleScheduled, g.Schedule(h))
	assert.True(t, g.Unschedule(h))

	n := g.ExecuteAllBackgroundWork()
	assert.Equal(t, 0, n)
	assert.False(t, ran.Load())
}

func TestStaleHandleAfterReuse(t *testing.T) {
	g := NewGroup(1, WithName("stale"))
	defer g.Close()

	h, err := g.CreateContract(func() {}, AnyThread)
	require.NoError(t, err)
	require.Equal(t, ScheduleScheduled, g.Schedule(h))
	g.ExecuteAllBackgroundWork()

	assert.False(t, handle.Default().IsValid(h))
	assert.Nil(t, handle.Default().Resolve(h))

	// The freed index is immediately reusable with a new generation.
	h2, err := g.CreateContract(func() {}, AnyThread)
	require.NoError(t, err)
	assert.Equal(t, h.Index, h2.Index)
	assert.NotEqual(t, h.Generation, h2.Generation)
}

func TestMainThreadKindNeverSelectedByBackgroundDrain(t *testing.T) {
	g := NewGroup(4, WithName("kinds"))
	defer g.Close()

	var mainRan atomic.Bool
	h, err := g.CreateContract(func() { mainRan.Store(true) }, MainThread)
	require.NoError(t, err)
	g.Schedule(h)

	n := g.ExecuteAllBackgroundWork()
	assert.Equal(t, 0, n)
	assert.False(t, mainRan.Load())

	n = g.ExecuteAllMainThreadWork()
	assert.Equal(t, 1, n)
	assert.True(t, mainRan.Load())
}

func TestFailureHookInvokedAndCountersRestored(t *testing.T) {
	g := NewGroup(4, WithName("panics"))
	defer g.Close()

	var hookCalled atomic.Bool
	g.SetFailureHook(func(h handle.Handle, kind Kind, recovered any) {
		hookCalled.Store(true)
	})

	h, err := g.CreateContract(func() { panic("boom") }, AnyThread)
	require.NoError(t, err)
	g.Schedule(h)

	n := g.ExecuteAllBackgroundWork()
	assert.Equal(t, 1, n)
	assert.True(t, hookCalled.Load())

	g.Wait()
	assert.Equal(t, int64(0), g.ActiveCount())
	assert.Equal(t, int64(0), g.ScheduledCount())
	assert.Equal(t, int64(0), g.ExecutingCount())
}
