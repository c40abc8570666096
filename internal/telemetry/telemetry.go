package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the service's telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the REST surface
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Cache / transfer business metrics
	policyDenialsTotal  metric.Int64Counter
	transferStartsTotal metric.Int64Counter
	removalsTotal       metric.Int64Counter
	preloadRunsTotal    metric.Int64Counter
	preloadRunDuration  metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. With Enabled false every recording
// method is a no-op.
func New(_ context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently in flight"),
	); err != nil {
		return err
	}

	if t.policyDenialsTotal, err = t.meter.Int64Counter(
		"policy_denials_total",
		metric.WithDescription("Transfers denied by the download policy, by reason"),
	); err != nil {
		return err
	}

	if t.transferStartsTotal, err = t.meter.Int64Counter(
		"transfer_starts_total",
		metric.WithDescription("Background transfers handed to the engine"),
	); err != nil {
		return err
	}

	if t.removalsTotal, err = t.meter.Int64Counter(
		"cache_removals_total",
		metric.WithDescription("Stale cached files approved for removal"),
	); err != nil {
		return err
	}

	if t.preloadRunsTotal, err = t.meter.Int64Counter(
		"preload_runs_total",
		metric.WithDescription("Queue preload runs, by outcome"),
	); err != nil {
		return err
	}

	if t.preloadRunDuration, err = t.meter.Float64Histogram(
		"preload_run_duration_seconds",
		metric.WithDescription("Queue preload run duration in seconds"),
	); err != nil {
		return err
	}

	return nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("mediacache")
	}

	return t.tracer
}

// Handler exposes the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records RED metrics for one request.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments the in-flight request gauge.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t == nil || t.httpRequestsInFlight == nil {
		return
	}

	t.httpRequestsInFlight.Add(context.Background(), 1)
}

// DecrementHTTPInFlight decrements the in-flight request gauge.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t == nil || t.httpRequestsInFlight == nil {
		return
	}

	t.httpRequestsInFlight.Add(context.Background(), -1)
}

// RecordPolicyDenial counts one policy denial by reason.
func (t *Telemetry) RecordPolicyDenial(ctx context.Context, reason string) {
	if t == nil || t.policyDenialsTotal == nil {
		return
	}

	t.policyDenialsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransferStart counts one transfer handed to the engine.
func (t *Telemetry) RecordTransferStart(ctx context.Context) {
	if t == nil || t.transferStartsTotal == nil {
		return
	}

	t.transferStartsTotal.Add(ctx, 1)
}

// RecordRemoval counts one approved stale-file removal.
func (t *Telemetry) RecordRemoval(ctx context.Context) {
	if t == nil || t.removalsTotal == nil {
		return
	}

	t.removalsTotal.Add(ctx, 1)
}

// RecordPreloadRun records one queue preload run and its duration.
func (t *Telemetry) RecordPreloadRun(ctx context.Context, duration time.Duration, success bool) {
	if t == nil || t.preloadRunsTotal == nil {
		return
	}

	outcome := "ok"
	if !success {
		outcome = "error"
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	t.preloadRunsTotal.Add(ctx, 1, attrs)
	t.preloadRunDuration.Record(ctx, duration.Seconds(), attrs)
}
