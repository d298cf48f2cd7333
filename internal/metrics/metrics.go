// Package metrics wires goldilock's optional acquisition counters into an
// OpenTelemetry meter backed by a Prometheus exporter, adapted from the
// teacher's telemetry bundle down to the single meter a one-shot CLI needs:
// no tracing, no OTLP, just acquisition-attempt, outcome and wait-to-HELD
// instruments plus Go runtime metrics for long-lived invocations (PID-1
// supervision, --unlockfile waits).
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"pkt.systems/pslog"

	"github.com/tipi-build/goldilock/internal/connguard"
)

func otelprometheusNew(registry *prometheus.Registry) (sdkmetric.Reader, error) {
	return otelprometheus.New(otelprometheus.WithRegisterer(registry))
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String("outcome", outcome)
}

// Recorder exposes the instruments a lockset acquisition cycle reports to.
type Recorder struct {
	acquireAttempts metric.Int64Counter
	acquireOutcomes metric.Int64Counter
	holdWait        metric.Float64Histogram
}

// Bundle owns the listener and providers started by Start; Shutdown tears
// everything down in the reverse order it was built.
type Bundle struct {
	Recorder *Recorder
	server   *http.Server
	listener net.Listener
	provider *sdkmetric.MeterProvider
	logger   pslog.Logger
}

// Start begins serving Prometheus-formatted metrics on addr, guarded by a
// connection guard tuned for a low-traffic internal endpoint rather than a
// public API. addr == "" disables metrics entirely and Start returns a nil
// Bundle and nil error.
func Start(addr string, logger pslog.Logger, guard connguard.ConnectionGuardConfig) (*Bundle, error) {
	if addr == "" {
		return nil, nil
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprometheusNew(registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: start prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	if err := otelruntime.Start(otelruntime.WithMeterProvider(provider)); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("metrics: start runtime instrumentation: %w", err)
	}

	rec, err := newRecorder(provider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("metrics: build recorder: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("metrics: listen on %s: %w", addr, err)
	}

	g := connguard.NewConnectionGuard(guard, logger)
	guarded := g.WrapListener(ln, nil)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(guarded); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics.serve_error", "error", err)
		}
	}()
	logger.Info("metrics.enabled", "listen", addr)

	return &Bundle{Recorder: rec, server: srv, listener: ln, provider: provider, logger: logger}, nil
}

// Shutdown stops the metrics server and meter provider. Safe to call on a
// nil Bundle (the common case when metrics are disabled).
func (b *Bundle) Shutdown(ctx context.Context) {
	if b == nil {
		return
	}
	if b.server != nil {
		_ = b.server.Shutdown(ctx)
	}
	if b.provider != nil {
		if err := b.provider.Shutdown(ctx); err != nil && b.logger != nil {
			b.logger.Warn("metrics.shutdown_failed", "error", err)
		}
	}
}

func newRecorder(provider metric.MeterProvider) (*Recorder, error) {
	meter := provider.Meter("github.com/tipi-build/goldilock")
	attempts, err := meter.Int64Counter("goldilock.acquire.attempts",
		metric.WithDescription("number of acquisition ticks surveyed across all lock sets"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("goldilock.acquire.outcomes",
		metric.WithDescription("terminal acquisition outcomes, labeled by result"))
	if err != nil {
		return nil, err
	}
	wait, err := meter.Float64Histogram("goldilock.acquire.wait_seconds",
		metric.WithDescription("time spent waiting to reach HELD, in seconds"))
	if err != nil {
		return nil, err
	}
	return &Recorder{acquireAttempts: attempts, acquireOutcomes: outcomes, holdWait: wait}, nil
}

// RecordOutcome reports a terminal acquisition outcome ("held", "cancelled",
// "error") and how long the caller waited to reach it. Safe to call on a
// nil Recorder (metrics disabled).
func (r *Recorder) RecordOutcome(ctx context.Context, outcome string, waited time.Duration) {
	if r == nil {
		return
	}
	r.acquireOutcomes.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
	r.holdWait.Record(ctx, waited.Seconds(), metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordTick reports one acquisition-loop survey, irrespective of outcome.
func (r *Recorder) RecordTick(ctx context.Context) {
	if r == nil {
		return
	}
	r.acquireAttempts.Add(ctx, 1)
}
