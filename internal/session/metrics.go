package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

// metrics mirrors the scheduler's metrics shape: a single observable
// gauge reporting the live session count at collection time, sampled
// via Registry.List() rather than tracked incrementally, since List
// already prunes collected entries as its side effect.
type metrics struct {
	registry *Registry
	live     metric.Int64ObservableGauge
}

func newMetrics(r *Registry, logger pslog.Logger) *metrics {
	m := &metrics{registry: r}
	meter := otel.Meter("github.com/dbfront/dbfront/session")

	var err error
	m.live, err = meter.Int64ObservableGauge(
		"dbfront.session.live_count",
		metric.WithDescription("Number of sessions currently live in the registry"),
	)
	logMetricInitError(logger, "dbfront.session.live_count", err)

	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(m.live, int64(len(r.List())))
		return nil
	}, m.live); err != nil && logger != nil {
		logger.Warn("telemetry.metric.callback_failed", "name", "dbfront.session.live_count", "error", err)
	}
	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
