// Package scheduler implements the work-stealing task scheduler: a fixed
// worker pool draining local/sticky/delayed queues plus a single
// conditional watcher thread.
package scheduler

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dbfront/dbfront/internal/clock"
	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/svcfields"
	"github.com/dbfront/dbfront/internal/task"
	"pkt.systems/pslog"
)

// Scheduler is a fixed pool of worker goroutines plus one conditional
// watcher goroutine. Construct with New, populate with Schedule/ScheduleAt,
// then call Start; Stop deactivates every queue and joins every goroutine.
type Scheduler struct {
	cfg    Config
	logger pslog.Logger
	clock  clock.Clock

	workers     []*worker
	conditional *task.Queue

	affinity     *affinityTable
	roundRobin   atomic.Uint64
	initialTasks [][]task.Task

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	metrics *metrics
	health  *healthSampler
}

// New constructs a Scheduler with cfg workers and their queues. No
// goroutines are started until Start is called (or never, under
// Config.EmptyThread).
func New(cfg Config, logger pslog.Logger, clk clock.Clock) *Scheduler {
	cfg = cfg.normalized()
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Scheduler{
		cfg:          cfg,
		logger:       svcfields.WithSubsystem(logger, "scheduler"),
		clock:        clk,
		conditional:  task.NewQueue(task.RoleConditional, nil),
		affinity:     newAffinityTable(uint64(cfg.ThreadCount)),
		initialTasks: make([][]task.Task, cfg.ThreadCount),
	}
	s.workers = make([]*worker, cfg.ThreadCount)
	for i := range s.workers {
		w := &worker{
			index:  uint64(i),
			local:  task.NewQueue(task.RoleLocal, nil),
			sticky: task.NewQueue(task.RoleSticky, nil),
			delay:  task.NewQueue(task.RoleDelayed, clk),
		}
		w.lastStealFrom.Store(uint64((i + 1) % cfg.ThreadCount))
		s.workers[i] = w
	}
	s.metrics = newMetrics(s)
	return s
}

// Size returns the number of workers.
func (s *Scheduler) Size() int { return len(s.workers) }

// Schedule submits t according to the configured submission policy:
// the task's hint when one is set (see task.Task.WithHint), else the
// thread-affinity index when UsePreferredWorkerForCurrentThread is
// set, otherwise plain round robin. Conditional tasks bypass worker
// routing entirely and land on the single global conditional queue.
func (s *Scheduler) Schedule(t task.Task) {
	if t.Conditional() {
		s.conditional.Push(t)
		return
	}
	idx, hasHint := t.Hint()
	switch {
	case hasHint:
	case s.cfg.UsePreferredWorkerForCurrentThread:
		idx = s.affinity.preferredForCurrentGoroutine()
	default:
		idx = s.nextWorker()
	}
	s.ScheduleAt(t, idx)
}

// ScheduleAt submits t to worker idx's queue, chosen by task flags:
// delayed tasks (delayed dominates when both flags are set) go to the
// delayed queue, sticky tasks to the sticky queue, everything else to
// the local (stealable) queue. Before Start, submissions buffer in an
// initial-tasks slot and are drained into the real queues on Start.
func (s *Scheduler) ScheduleAt(t task.Task, idx uint64) {
	if t.Conditional() {
		s.conditional.Push(t)
		return
	}
	if int(idx) >= len(s.workers) {
		panic(fmt.Sprintf("dbfront: scheduler: worker index %d out of range", idx))
	}

	s.mu.Lock()
	if !s.started {
		s.initialTasks[idx] = append(s.initialTasks[idx], t)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	w := s.workers[idx]
	switch {
	case t.Delayed():
		w.delay.Push(t)
	case t.Sticky():
		w.sticky.Push(t)
	default:
		w.local.Push(t)
	}
}

func (s *Scheduler) nextWorker() uint64 {
	n := s.roundRobin.Add(1) - 1
	return n % uint64(len(s.workers))
}

// Start drains buffered initial tasks into their real queues, activates
// every queue, then (unless Config.EmptyThread) launches one goroutine
// per worker and one conditional watcher goroutine.
//
// The source this was distilled from sleeps 1ms here to work around a
// third-party concurrent-queue's start-up behavior; this scheduler's
// queues are plain mutex-guarded slices with no such quirk, so the sleep
// is intentionally dropped.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	for idx, buffered := range s.initialTasks {
		w := s.workers[idx]
		for _, t := range buffered {
			switch {
			case t.Delayed():
				w.delay.Push(t)
			case t.Sticky():
				w.sticky.Push(t)
			default:
				w.local.Push(t)
			}
		}
	}
	s.initialTasks = nil
	s.started = true
	s.mu.Unlock()

	if s.cfg.EmptyThread {
		return
	}

	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			s.runWorker(w)
		}(w)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runWatcher()
	}()

	if s.cfg.HealthSampleInterval > 0 {
		s.health = newHealthSampler(s.cfg.HealthSampleInterval, s)
		s.health.start()
	}
}

// Stop deactivates every queue, which makes pending TryPop calls return
// false, then joins every goroutine. Tasks still in queues when Stop
// runs are dropped.
func (s *Scheduler) Stop() {
	for _, w := range s.workers {
		w.local.Deactivate()
		w.sticky.Deactivate()
		w.delay.Deactivate()
	}
	s.conditional.Deactivate()
	s.wg.Wait()

	if s.health != nil {
		s.health.stop()
		s.health = nil
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Health returns the most recent host resource sample, or a zero value
// if HealthSampleInterval is disabled or no sample has landed yet.
func (s *Scheduler) Health() HealthSample {
	if s.health == nil {
		return HealthSample{}
	}
	return s.health.snapshot()
}

// RunOnce drives worker idx's loop body exactly once: it is the testing
// hatch for Config.EmptyThread schedulers, letting callers single-step
// execution by hand. It returns true if a task ran.
func (s *Scheduler) RunOnce(idx int) bool {
	w := s.workers[idx]
	return s.tick(task.NewContext(w.index), w)
}

// RunWatcherOnce drives one conditional-watcher sweep by hand.
func (s *Scheduler) RunWatcherOnce() {
	s.watcherSweep()
}

// Stats returns a snapshot of each worker's executed/steal/empty-poll
// counters.
func (s *Scheduler) Stats() []WorkerStat {
	out := make([]WorkerStat, len(s.workers))
	for i, w := range s.workers {
		out[i] = w.stat()
	}
	return out
}

func (s *Scheduler) runWorker(w *worker) {
	ctx := task.NewContext(w.index)
	ctx.SetLastStealFrom(w.lastStealFrom.Load())
	if s.cfg.Initializer != nil {
		s.cfg.Initializer(w.index)
	}
	w.local.Reconstruct()
	w.sticky.Reconstruct()
	w.delay.Reconstruct()

	for w.local.Active() {
		if !s.tick(ctx, w) {
			w.emptyPolls.Add(1)
			s.metrics.recordEmptyPoll(nil, w.index)
			if s.cfg.LazyWorker {
				s.clock.Sleep(DefaultLazyParkInterval)
			} else {
				runtime.Gosched()
			}
		}
	}
}

// tick runs the worker loop body once: drain due delayed tasks, try
// local, try sticky, then try to steal. It returns true if a task ran.
func (s *Scheduler) tick(ctx *task.Context, w *worker) bool {
	w.delay.DrainDueInto(w.local)

	if t, ok := w.local.TryPop(); ok {
		s.execute(ctx, w, t)
		return true
	}
	if t, ok := w.sticky.TryPop(); ok {
		s.execute(ctx, w, t)
		return true
	}
	if t, donor, ok := s.steal(w); ok {
		ctx.SetLastStealFrom(donor)
		w.lastStealFrom.Store(donor)
		w.steals.Add(1)
		s.metrics.recordSteal(nil, w.index, donor)
		s.execute(ctx, w, t)
		return true
	}
	return false
}

// steal visits peers in rotation starting at the worker's last-steal
// cursor, up to StealRetryLimit attempts, trying only each peer's local
// (stealable) queue. Sticky and delayed queues are never stolen from.
func (s *Scheduler) steal(w *worker) (task.Task, uint64, bool) {
	n := uint64(len(s.workers))
	if n <= 1 {
		return task.Task{}, 0, false
	}
	start := w.lastStealFrom.Load()
	for i := 0; i < s.cfg.StealRetryLimit; i++ {
		peerIdx := (start + uint64(i)) % n
		if peerIdx == w.index {
			continue
		}
		peer := s.workers[peerIdx]
		if t, ok := peer.local.TryPop(); ok {
			return t, peerIdx, true
		}
	}
	return task.Task{}, 0, false
}

// execute invokes t's action inside a panic guard; panics are logged and
// never propagate out of the worker loop.
func (s *Scheduler) execute(ctx *task.Context, w *worker, t task.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler.task.panic",
				"worker", w.index,
				"recovered", r,
				"error", coreerr.ErrTaskPanic)
		}
	}()
	t.Run(ctx)
	w.executed.Add(1)
	s.metrics.recordExecuted(nil, w.index)
}

