package scheduler_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/clock"
	"github.com/dbfront/dbfront/internal/scheduler"
	"github.com/dbfront/dbfront/internal/task"
)

func TestSchedulerSmoke(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.Config{ThreadCount: 4}, nil, nil)
	var counter atomic.Uint64
	s.Start()
	for i := 0; i < 10000; i++ {
		s.Schedule(task.New(func(*task.Context) { counter.Add(1) }))
	}
	require.Eventually(t, func() bool { return counter.Load() == 10000 }, time.Second, time.Millisecond)
	s.Stop()

	require.Equal(t, uint64(10000), counter.Load())
}

func TestSchedulerStealing(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.Config{
		ThreadCount:                        2,
		UsePreferredWorkerForCurrentThread: true,
	}, nil, nil)
	var counter atomic.Uint64
	s.Start()
	for i := 0; i < 1000; i++ {
		s.Schedule(task.New(func(*task.Context) {
			counter.Add(1)
			time.Sleep(time.Microsecond)
		}))
	}
	require.Eventually(t, func() bool { return counter.Load() == 1000 }, 5*time.Second, time.Millisecond)
	s.Stop()

	stats := s.Stats()
	require.Len(t, stats, 2)
	require.Greater(t, stats[0].Executed, uint64(0))
	require.Greater(t, stats[1].Executed, uint64(0))
	require.Greater(t, stats[1].Steals, uint64(0), "worker 1 must steal from worker 0's local queue")
}

func TestSchedulerStickyOrdering(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.Config{ThreadCount: 4}, nil, nil)
	var mu sync.Mutex
	var order []string
	s.Start()
	for _, id := range []string{"T1", "T2", "T3"} {
		id := id
		s.ScheduleAt(task.NewSticky(func(*task.Context) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}), 0)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)
	s.Stop()

	require.Equal(t, []string{"T1", "T2", "T3"}, order)
}

func TestSchedulerConditional(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.Config{
		ThreadCount:       1,
		WatcherIntervalUS: 1000,
	}, nil, nil)

	var calls int32
	var executed int32
	start := time.Now()
	var executedAt time.Time
	var mu sync.Mutex

	s.Start()
	s.Schedule(task.NewConditional(func() bool {
		return atomic.AddInt32(&calls, 1) >= 4
	}, func(*task.Context) {
		atomic.AddInt32(&executed, 1)
		mu.Lock()
		executedAt = time.Now()
		mu.Unlock()
	}))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&executed) == 1 }, time.Second, time.Millisecond)
	s.Stop()

	require.Equal(t, int32(1), atomic.LoadInt32(&executed))
	mu.Lock()
	elapsed := executedAt.Sub(start)
	mu.Unlock()
	require.GreaterOrEqual(t, elapsed, 3*time.Millisecond)
}

func TestSchedulerDelayedDrainsIntoLocal(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Unix(0, 0))
	s := scheduler.New(scheduler.Config{ThreadCount: 1, EmptyThread: true}, nil, mc)

	var ran bool
	s.Start()
	s.ScheduleAt(task.NewDelayed(mc.Now().Add(10*time.Millisecond), func(*task.Context) { ran = true }), 0)

	require.False(t, s.RunOnce(0), "delayed task is not yet due")
	require.False(t, ran)

	mc.Advance(10 * time.Millisecond)
	require.True(t, s.RunOnce(0))
	require.True(t, ran)
}

func TestSchedulerEmptyThreadDriveByHand(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.Config{ThreadCount: 1, EmptyThread: true}, nil, nil)
	s.Start()

	require.False(t, s.RunOnce(0), "no task queued yet")

	var ran bool
	s.ScheduleAt(task.New(func(*task.Context) { ran = true }), 0)
	require.True(t, s.RunOnce(0))
	require.True(t, ran)
}
