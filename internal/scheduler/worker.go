package scheduler

import (
	"sync/atomic"

	"github.com/dbfront/dbfront/internal/task"
)

// WorkerStat holds the read-only counters spec.md's Worker entity names:
// executed count, steal count, and empty polls. It has no read path in
// the source this was distilled from; Scheduler.Stats exposes a snapshot
// of it for telemetry and tests.
type WorkerStat struct {
	Executed   uint64
	Steals     uint64
	EmptyPolls uint64
}

// worker is one fixed slot: an index, its three queues, and its stats.
// A worker never migrates across goroutines once its loop starts.
type worker struct {
	index  uint64
	local  *task.Queue
	sticky *task.Queue
	delay  *task.Queue

	executed      atomic.Uint64
	steals        atomic.Uint64
	emptyPolls    atomic.Uint64
	lastStealFrom atomic.Uint64
}

func (w *worker) stat() WorkerStat {
	return WorkerStat{
		Executed:   w.executed.Load(),
		Steals:     w.steals.Load(),
		EmptyPolls: w.emptyPolls.Load(),
	}
}
