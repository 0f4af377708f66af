package task

import (
	"sync"
	"sync/atomic"

	"github.com/dbfront/dbfront/internal/clock"
)

// Role names the three queue variants a worker slot owns, plus the single
// global conditional queue.
type Role int

const (
	RoleLocal Role = iota
	RoleSticky
	RoleDelayed
	RoleConditional
)

// Queue is the shared FIFO implementation backing all four roles.
//
// There is no lock-free deque in the example corpus this was grounded on,
// so the ready-task buffer is a plain mutex-guarded slice: push appends,
// try_pop shifts the front off. That is sufficient here because workers
// never hold this lock across user task execution (the mutex only guards
// the O(1) slice operations).
type Queue struct {
	role   Role
	clock  clock.Clock
	mu     sync.Mutex
	items  []Task
	active atomic.Bool
}

// NewQueue constructs a queue for the given role. clk is only consulted
// by RoleDelayed queues; pass nil for the other roles.
func NewQueue(role Role, clk clock.Clock) *Queue {
	q := &Queue{role: role, clock: clk}
	if role == RoleDelayed && clk == nil {
		q.clock = clock.Real{}
	}
	q.active.Store(true)
	return q
}

// Role reports which of the four roles this queue serves.
func (q *Queue) Role() Role { return q.role }

// Push enqueues t. Safe to call from any goroutine.
func (q *Queue) Push(t Task) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

// TryPop removes and returns the head task if one is ready. It returns
// false if the queue is empty, inactive, or (for RoleDelayed) the head's
// not-before instant has not elapsed.
func (q *Queue) TryPop() (Task, bool) {
	if !q.active.Load() {
		return Task{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false
	}
	head := q.items[0]
	if q.role == RoleDelayed && q.clock.Now().Before(head.NotBefore()) {
		return Task{}, false
	}
	q.items[0] = Task{}
	q.items = q.items[1:]
	return head, true
}

// DrainDueInto pops every item at the front of a delayed queue whose
// not-before instant has elapsed and pushes it onto dst. Used by workers
// to promote ready delayed tasks into their local queue each tick.
func (q *Queue) DrainDueInto(dst *Queue) {
	if q.role != RoleDelayed {
		return
	}
	now := q.clock.Now()
	q.mu.Lock()
	due := 0
	for due < len(q.items) && !now.Before(q.items[due].NotBefore()) {
		due++
	}
	ready := append([]Task(nil), q.items[:due]...)
	q.items = q.items[due:]
	q.mu.Unlock()
	for _, t := range ready {
		dst.Push(t)
	}
}

// Size reports the number of tasks currently queued.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue currently holds no tasks.
func (q *Queue) Empty() bool {
	return q.Size() == 0
}

// Active reports whether the queue still accepts try_pop.
func (q *Queue) Active() bool {
	return q.active.Load()
}

// Deactivate marks the queue inactive; subsequent TryPop calls return
// false. Remaining items are dropped by the caller discarding the queue.
func (q *Queue) Deactivate() {
	q.active.Store(false)
}

// Reconstruct rebuilds the internal buffer. On a NUMA-aware target this
// is the hook where a worker, on its first tick, would re-allocate the
// buffer so it is first-touched on its own NUMA node. This implementation
// has no NUMA story; it preserves the call site and simply compacts the
// backing array.
func (q *Queue) Reconstruct() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.items = nil
		return
	}
	fresh := make([]Task, len(q.items))
	copy(fresh, q.items)
	q.items = fresh
}
