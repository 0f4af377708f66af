// Package task defines the move-only task variant and the four queue
// roles (local, sticky, delayed, conditional) that the scheduler drains.
package task

import "time"

// Context is the dynamic state a worker passes to an executing task: its
// own worker index and the index it most recently stole from.
type Context struct {
	index         uint64
	lastStealFrom uint64
}

// NewContext constructs a context for the worker at index.
func NewContext(index uint64) *Context {
	return &Context{index: index}
}

// Index returns the 0-origin worker index associated with this context.
func (c *Context) Index() uint64 {
	return c.index
}

// LastStealFrom returns the index this worker most recently stole from.
func (c *Context) LastStealFrom() uint64 {
	return c.lastStealFrom
}

// SetLastStealFrom records the donor index of the most recent steal.
func (c *Context) SetLastStealFrom(idx uint64) {
	c.lastStealFrom = idx
}

// Action is the callable body of a task.
type Action func(ctx *Context)

// CheckFunc is a conditional task's readiness predicate.
type CheckFunc func() bool

// Task is a tagged variant: plain, sticky, delayed, or conditional. The
// zero value is not usable; construct with the New* functions.
//
// Delayed dominates sticky when both are set, per the source this spec
// was distilled from: a task with both flags routes to the delayed queue.
type Task struct {
	action    Action
	sticky    bool
	notBefore time.Time
	delayed   bool
	check     CheckFunc
	hint      uint64
	hasHint   bool
}

// New constructs a plain task.
func New(action Action) Task {
	return Task{action: action}
}

// NewSticky constructs a task bound to a specific worker; it is never
// stolen. Use WithHint to pin it to a worker index up front, or leave
// the hint unset and pass the index explicitly to Scheduler.ScheduleAt.
func NewSticky(action Action) Task {
	return Task{action: action, sticky: true}
}

// WithHint returns a copy of t carrying a preferred worker index.
// Scheduler.Schedule consults the hint for any non-conditional task
// instead of the caller's affinity or round-robin index; ScheduleAt's
// explicit index argument always takes precedence over a hint.
func (t Task) WithHint(idx uint64) Task {
	t.hint = idx
	t.hasHint = true
	return t
}

// Hint returns the task's preferred worker index and whether one was set.
func (t Task) Hint() (uint64, bool) { return t.hint, t.hasHint }

// NewDelayed constructs a sticky task that becomes ready at notBefore.
func NewDelayed(notBefore time.Time, action Action) Task {
	return Task{action: action, sticky: true, delayed: true, notBefore: notBefore}
}

// NewConditional constructs a task evaluated by the conditional watcher:
// action runs only once check returns true.
func NewConditional(check CheckFunc, action Action) Task {
	return Task{action: action, check: check}
}

// Sticky reports whether this task must run on one specific worker.
func (t Task) Sticky() bool { return t.sticky }

// Delayed reports whether this task carries a not-before instant.
func (t Task) Delayed() bool { return t.delayed }

// Conditional reports whether this task is evaluated by the watcher.
func (t Task) Conditional() bool { return t.check != nil }

// NotBefore returns the instant before which a delayed task must not run.
func (t Task) NotBefore() time.Time { return t.notBefore }

// Ready reports whether a conditional task's predicate currently holds.
// Panics inside check are the caller's responsibility to guard.
func (t Task) Ready() bool {
	if t.check == nil {
		return true
	}
	return t.check()
}

// Run invokes the task's action with ctx. Callers are responsible for
// panic isolation; Run itself does not recover.
func (t Task) Run(ctx *Context) {
	if t.action != nil {
		t.action(ctx)
	}
}

// Valid reports whether t carries an action (the zero Task is invalid).
func (t Task) Valid() bool { return t.action != nil }
