package scheduler

import "time"

const (
	// DefaultStealRetryLimit bounds how many peers a worker visits per
	// steal attempt before falling back to idle behavior.
	DefaultStealRetryLimit = 3
	// DefaultLazyParkInterval bounds how long a lazy worker parks after
	// exhausting its steal attempts.
	DefaultLazyParkInterval = 500 * time.Microsecond
)

// Config configures a Scheduler.
type Config struct {
	// ThreadCount is the number of fixed worker goroutines.
	ThreadCount int
	// UsePreferredWorkerForCurrentThread routes Schedule calls to a
	// lazily-assigned, per-caller worker index instead of round robin.
	UsePreferredWorkerForCurrentThread bool
	// WatcherIntervalUS is the conditional watcher's poll interval in
	// microseconds; zero means yield only between polls.
	WatcherIntervalUS int64
	// StealRetryLimit caps how many peers a worker visits per steal
	// attempt.
	StealRetryLimit int
	// LazyWorker parks idle workers briefly instead of spinning.
	LazyWorker bool
	// Initializer, if set, runs once on each worker goroutine before its
	// first iteration, receiving the worker's index.
	Initializer func(index uint64)
	// EmptyThread creates queues and workers but launches no goroutines;
	// callers drive execution by hand via Scheduler.RunOnce. Used by
	// unit tests.
	EmptyThread bool
	// HealthSampleInterval, if positive, starts a background host
	// CPU/memory sampler alongside the worker goroutines; Health()
	// returns its most recent reading. Zero disables sampling.
	HealthSampleInterval time.Duration
}

func (c Config) normalized() Config {
	if c.ThreadCount <= 0 {
		c.ThreadCount = 1
	}
	if c.StealRetryLimit <= 0 {
		c.StealRetryLimit = DefaultStealRetryLimit
	}
	return c
}

func (c Config) watcherInterval() time.Duration {
	if c.WatcherIntervalUS <= 0 {
		return 0
	}
	return time.Duration(c.WatcherIntervalUS) * time.Microsecond
}
