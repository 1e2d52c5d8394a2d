package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
// The zero value is a valid, disabled instance.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	fetchesTotal    metric.Int64Counter
	fetchDuration   metric.Float64Histogram
	attemptsTotal   metric.Int64Counter
	attemptDuration metric.Float64Histogram
	retriesTotal    metric.Int64Counter
	bytesWritten    metric.Int64Counter

	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, when set, additionally pushes metrics over OTLP/gRPC.
	OTLPEndpoint string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		registry:       registry,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	return t, nil
}

// Enabled reports whether instruments are being recorded.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.tracer != nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordFetch records the outcome of a whole fetch.
func (t *Telemetry) RecordFetch(ctx context.Context, status string, duration time.Duration) {
	if !t.Enabled() {
		return
	}

	if t.fetchesTotal != nil {
		t.fetchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}

	if t.fetchDuration != nil {
		t.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordAttempt records the outcome of a single transfer attempt.
// outcome is one of a bounded set such as "success", "http_4xx", "http_5xx", "transport_error".
func (t *Telemetry) RecordAttempt(ctx context.Context, outcome string, duration time.Duration) {
	if !t.Enabled() {
		return
	}

	if t.attemptsTotal != nil {
		t.attemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if t.attemptDuration != nil {
		t.attemptDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordRetry counts a retry scheduled after a failed attempt.
func (t *Telemetry) RecordRetry(ctx context.Context) {
	if !t.Enabled() {
		return
	}

	if t.retriesTotal != nil {
		t.retriesTotal.Add(ctx, 1)
	}
}

// RecordBytes adds n to the number of bytes written to destinations.
func (t *Telemetry) RecordBytes(ctx context.Context, n int64) {
	if !t.Enabled() {
		return
	}

	if t.bytesWritten != nil && n > 0 {
		t.bytesWritten.Add(ctx, n)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if !t.Enabled() {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(ctx, 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter and tracer providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeFetchMetrics(); err != nil {
		return err
	}

	return t.initializeDBMetrics()
}

func (t *Telemetry) initializeFetchMetrics() error {
	var err error

	t.fetchesTotal, err = t.meter.Int64Counter(
		"fetches_total",
		metric.WithDescription("Total number of fetches by final status"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetches_total counter: %w", err)
	}

	t.fetchDuration, err = t.meter.Float64Histogram(
		"fetch_duration_seconds",
		metric.WithDescription("Fetch duration in seconds, all attempts included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_duration histogram: %w", err)
	}

	t.attemptsTotal, err = t.meter.Int64Counter(
		"fetch_attempts_total",
		metric.WithDescription("Total number of transfer attempts by outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_attempts_total counter: %w", err)
	}

	t.attemptDuration, err = t.meter.Float64Histogram(
		"fetch_attempt_duration_seconds",
		metric.WithDescription("Transfer attempt duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_attempt_duration histogram: %w", err)
	}

	t.retriesTotal, err = t.meter.Int64Counter(
		"fetch_retries_total",
		metric.WithDescription("Total number of retries scheduled after failed attempts"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_retries_total counter: %w", err)
	}

	t.bytesWritten, err = t.meter.Int64Counter(
		"fetch_bytes_written_total",
		metric.WithDescription("Total number of bytes written to destination files"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_bytes_written_total counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeDBMetrics() error {
	var err error

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}
