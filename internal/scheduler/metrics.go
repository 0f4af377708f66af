package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type metrics struct {
	executed    metric.Int64Counter
	steals      metric.Int64Counter
	emptyPolls  metric.Int64Counter
	workerCount metric.Int64ObservableGauge
	sched       *Scheduler
}

func newMetrics(s *Scheduler) *metrics {
	meter := otel.Meter("github.com/dbfront/dbfront/scheduler")
	m := &metrics{sched: s}
	var err error

	m.executed, err = meter.Int64Counter(
		"dbfront.scheduler.task.executed",
		metric.WithDescription("Tasks executed per worker"),
	)
	logMetricInitError(s.logger, "dbfront.scheduler.task.executed", err)

	m.steals, err = meter.Int64Counter(
		"dbfront.scheduler.task.stolen",
		metric.WithDescription("Tasks picked up via work stealing"),
	)
	logMetricInitError(s.logger, "dbfront.scheduler.task.stolen", err)

	m.emptyPolls, err = meter.Int64Counter(
		"dbfront.scheduler.worker.empty_poll",
		metric.WithDescription("Worker loop iterations that found no ready task"),
	)
	logMetricInitError(s.logger, "dbfront.scheduler.worker.empty_poll", err)

	m.workerCount, err = meter.Int64ObservableGauge(
		"dbfront.scheduler.worker.count",
		metric.WithDescription("Configured worker count"),
	)
	logMetricInitError(s.logger, "dbfront.scheduler.worker.count", err)

	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		m.observe(ctx, o)
		return nil
	}, m.workerCount); err != nil && s.logger != nil {
		s.logger.Warn("telemetry.metric.callback_failed", "name", "dbfront.scheduler.worker.count", "error", err)
	}

	return m
}

// observe reports the scheduler's worker count (Scheduler.Size) on the
// workerCount gauge; the per-worker counters are recorded as events occur.
func (m *metrics) observe(ctx context.Context, o metric.Observer) {
	if m == nil || m.sched == nil {
		return
	}
	if m.workerCount != nil {
		o.ObserveInt64(m.workerCount, int64(m.sched.Size()))
	}
}

func (m *metrics) recordExecuted(ctx context.Context, workerIndex uint64) {
	if m == nil || m.executed == nil {
		return
	}
	m.executed.Add(metricContext(ctx), 1, metric.WithAttributes(attribute.Int64("dbfront.worker.index", int64(workerIndex))))
}

func (m *metrics) recordSteal(ctx context.Context, workerIndex, donorIndex uint64) {
	if m == nil || m.steals == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int64("dbfront.worker.index", int64(workerIndex)),
		attribute.Int64("dbfront.worker.donor", int64(donorIndex)),
	}
	m.steals.Add(metricContext(ctx), 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordEmptyPoll(ctx context.Context, workerIndex uint64) {
	if m == nil || m.emptyPolls == nil {
		return
	}
	m.emptyPolls.Add(metricContext(ctx), 1, metric.WithAttributes(attribute.Int64("dbfront.worker.index", int64(workerIndex))))
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
