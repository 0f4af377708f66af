package task_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/clock"
	"github.com/dbfront/dbfront/internal/task"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := task.NewQueue(task.RoleLocal, nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.Push(task.New(func(*task.Context) { order = append(order, i) }))
	}
	require.Equal(t, 3, q.Size())
	for i := 0; i < 3; i++ {
		tk, ok := q.TryPop()
		require.True(t, ok)
		tk.Run(nil)
	}
	require.Equal(t, []int{0, 1, 2}, order)
	require.True(t, q.Empty())
	_, ok := q.TryPop()
	require.False(t, ok)
}

func TestQueueDeactivate(t *testing.T) {
	t.Parallel()

	q := task.NewQueue(task.RoleSticky, nil)
	q.Push(task.NewSticky(func(*task.Context) {}))
	q.Deactivate()
	require.False(t, q.Active())
	_, ok := q.TryPop()
	require.False(t, ok, "deactivated queue must not yield tasks")
}

func TestDelayedQueueHoldsUntilDue(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Unix(0, 0))
	q := task.NewQueue(task.RoleDelayed, mc)
	q.Push(task.NewDelayed(mc.Now().Add(10*time.Millisecond), func(*task.Context) {}))

	_, ok := q.TryPop()
	require.False(t, ok, "task not yet due")

	mc.Advance(10 * time.Millisecond)
	tk, ok := q.TryPop()
	require.True(t, ok)
	require.True(t, tk.Delayed())
}

func TestDelayedDrainDueInto(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Unix(0, 0))
	delayed := task.NewQueue(task.RoleDelayed, mc)
	local := task.NewQueue(task.RoleLocal, nil)

	delayed.Push(task.NewDelayed(mc.Now().Add(5*time.Millisecond), func(*task.Context) {}))
	delayed.Push(task.NewDelayed(mc.Now().Add(50*time.Millisecond), func(*task.Context) {}))

	mc.Advance(5 * time.Millisecond)
	delayed.DrainDueInto(local)

	require.Equal(t, 1, local.Size())
	require.Equal(t, 1, delayed.Size())
}

func TestDelayedDominatesSticky(t *testing.T) {
	t.Parallel()

	tk := task.NewDelayed(time.Now(), func(*task.Context) {})
	require.True(t, tk.Delayed())
	require.True(t, tk.Sticky(), "delayed tasks carry the sticky flag too, per the source this was distilled from")
}

func TestConditionalReady(t *testing.T) {
	t.Parallel()

	calls := 0
	tk := task.NewConditional(func() bool {
		calls++
		return calls >= 3
	}, func(*task.Context) {})

	require.False(t, tk.Ready())
	require.False(t, tk.Ready())
	require.True(t, tk.Ready())
	require.True(t, tk.Conditional())
}

func TestContextLastStealFrom(t *testing.T) {
	t.Parallel()

	ctx := task.NewContext(2)
	require.Equal(t, uint64(2), ctx.Index())
	ctx.SetLastStealFrom(5)
	require.Equal(t, uint64(5), ctx.LastStealFrom())
}
