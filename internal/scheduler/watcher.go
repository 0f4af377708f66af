package scheduler

import (
	"runtime"

	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/task"
)

// watcherContext is the sentinel context passed to conditional task
// actions: they run on the watcher goroutine, not a worker slot, so
// there is no meaningful worker index or steal donor to report.
var watcherContext = task.NewContext(^uint64(0))

func (s *Scheduler) runWatcher() {
	for s.conditional.Active() {
		s.watcherSweep()
		interval := s.cfg.watcherInterval()
		if interval <= 0 {
			runtime.Gosched()
			continue
		}
		s.clock.Sleep(interval)
	}
}

// watcherSweep drains every currently-enqueued conditional task, runs
// each check() in a panic-safe wrapper, executes the action when true,
// and re-enqueues when false. This preserves a single-threaded-consumer
// invariant on the conditional queue, so check() authors never need to
// worry about concurrent evaluation.
func (s *Scheduler) watcherSweep() {
	var negatives []task.Task
	for {
		t, ok := s.conditional.TryPop()
		if !ok {
			break
		}
		if s.safeCheck(t) {
			s.executeConditional(t)
			continue
		}
		negatives = append(negatives, t)
	}
	for _, t := range negatives {
		s.conditional.Push(t)
	}
}

func (s *Scheduler) safeCheck(t task.Task) (ready bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler.conditional.check_panic", "recovered", r)
			ready = false
		}
	}()
	return t.Ready()
}

func (s *Scheduler) executeConditional(t task.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler.conditional.action_panic", "recovered", r, "error", coreerr.ErrTaskPanic)
		}
	}()
	t.Run(watcherContext)
}
