// Package metrics wires the scheduler's and session registry's
// OpenTelemetry instruments (each registered against the
// global otel.Meter by its own package) to a scrapeable Prometheus HTTP
// endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

// Provider owns the OTel SDK MeterProvider and the Prometheus registry
// it exports into, plus the HTTP server exposing /metrics.
type Provider struct {
	logger   pslog.Logger
	registry *prometheus.Registry
	meter    *sdkmetric.MeterProvider
	server   *http.Server
}

// New constructs a Provider and installs it as the process-wide OTel
// MeterProvider via otel.SetMeterProvider, so every package's
// otel.Meter(...) call (scheduler, session) reports through it.
func New(logger pslog.Logger) (*Provider, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("dbfront: metrics: create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)

	return &Provider{
		logger:   svcfields.WithSubsystem(logger, "metrics.http"),
		registry: registry,
		meter:    meterProvider,
	}, nil
}

// Handler returns the HTTP handler serving the Prometheus registry's
// exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server on addr exposing Handler under /metrics.
// It blocks until the server stops; call in its own goroutine.
func (p *Provider) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	p.server = &http.Server{Addr: addr, Handler: mux}
	p.logger.Info("metrics.http.listening", "addr", addr)
	err := p.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server (if started) and flushes the
// MeterProvider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return p.meter.Shutdown(ctx)
}
