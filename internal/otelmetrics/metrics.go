// Package otelmetrics provides OpenTelemetry instrumentation for the
// job engine.
package otelmetrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType selects the metrics exporter.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config holds configuration for engine metrics.
type Config struct {
	// Enabled controls whether metrics collection is active. Default:
	// false (no-op meter).
	Enabled bool

	// ServiceName attributes the metrics. Default "loaddriver".
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType selects where metrics go.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool
}

// DefaultConfig returns a configuration with metrics disabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		ServiceName:  "loaddriver",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps the engine's metric instruments.
type Metrics struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error

	jobDuration   metric.Float64Histogram
	calibration   metric.Float64Histogram
	parseFailures metric.Int64Counter
	rowsWritten   metric.Int64Counter
	writeRetries  metric.Int64Counter
}

// New creates a Metrics instance. When disabled, every instrument is a
// no-op.
func New(ctx context.Context, cfg *Config) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		if err := m.registerInstruments(); err != nil {
			return nil, err
		}
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) createExporter(ctx context.Context, cfg *Config) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) createResource(cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.jobDuration, err = m.meter.Float64Histogram(
		"loaddriver.job.duration",
		metric.WithDescription("Wall-clock duration of load-test jobs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create job duration histogram: %w", err)
	}

	m.calibration, err = m.meter.Float64Histogram(
		"loaddriver.calibration.latency",
		metric.WithDescription("Calibration probe latencies"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("create calibration histogram: %w", err)
	}

	m.parseFailures, err = m.meter.Int64Counter(
		"loaddriver.report.parse_failures",
		metric.WithDescription("Report dimensions that could not be extracted"),
	)
	if err != nil {
		return fmt.Errorf("create parse failure counter: %w", err)
	}

	m.rowsWritten, err = m.meter.Int64Counter(
		"loaddriver.store.rows_written",
		metric.WithDescription("Metric rows persisted"),
	)
	if err != nil {
		return fmt.Errorf("create rows written counter: %w", err)
	}

	m.writeRetries, err = m.meter.Int64Counter(
		"loaddriver.store.write_retries",
		metric.WithDescription("Retried metric row writes"),
	)
	if err != nil {
		return fmt.Errorf("create write retry counter: %w", err)
	}

	return nil
}

// RecordJobDuration records the wall-clock duration of a job.
func (m *Metrics) RecordJobDuration(ctx context.Context, scenario string, seconds float64, completed bool) {
	m.jobDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("scenario", scenario),
			attribute.Bool("completed", completed),
		))
}

// RecordCalibration records a measured calibration latency.
func (m *Metrics) RecordCalibration(ctx context.Context, phase string, latencyMs float64) {
	m.calibration.Record(ctx, latencyMs,
		metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordParseFailures counts dimensions left unmeasured after parsing.
func (m *Metrics) RecordParseFailures(ctx context.Context, count int64) {
	m.parseFailures.Add(ctx, count)
}

// RecordRowsWritten counts persisted metric rows.
func (m *Metrics) RecordRowsWritten(ctx context.Context, table string, rows int64) {
	m.rowsWritten.Add(ctx, rows,
		metric.WithAttributes(attribute.String("table", table)))
}

// RecordWriteRetry counts a retried store write.
func (m *Metrics) RecordWriteRetry(ctx context.Context) {
	m.writeRetries.Add(ctx, 1)
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.shutdown(ctx)
}
