package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/glass-erp/deleteflow"

const metricInterval = 15 * time.Second

// Config configures export to an OTLP collector.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC host:port
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batching delay
	Enabled        bool
	Insecure       bool // plaintext gRPC
}

// DefaultConfig returns the defaults used when no collector is configured.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "deleteflow",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Insecure:       true,
	}
}

// Provider owns the tracer and meter used by the workflow and the SLO
// tracker fed by TrackOperation.
type Provider struct {
	cfg    Config
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	meter  metric.Meter
	slo    *SLOTracker
	logger *slog.Logger

	operations metric.Int64Counter
	duration   metric.Float64Histogram
	inflight   metric.Int64UpDownCounter
}

// New creates a provider. Without Enabled nothing is exported and the
// global (no-op by default) otel providers are used.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{
		cfg:    *cfg,
		slo:    NewSLOTracker(DefaultObjectives()...),
		logger: slog.Default().With("component", "observability"),
	}

	if cfg.Enabled {
		if err := p.startExport(ctx); err != nil {
			return nil, err
		}
		p.logger.InfoContext(ctx, "exporting telemetry",
			"endpoint", cfg.OTLPEndpoint,
			"environment", cfg.Environment,
			"sample_rate", cfg.SampleRate,
		)
	}

	p.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) startExport(ctx context.Context) error {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(p.cfg.ServiceName),
		semconv.ServiceVersion(p.cfg.ServiceVersion),
		semconv.DeploymentEnvironment(p.cfg.Environment),
	))
	if err != nil {
		return fmt.Errorf("observability: resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}
	metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return fmt.Errorf("observability: metric exporter: %w", err)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(p.cfg.BatchTimeout)),
		sdktrace.WithSampler(samplerFor(p.cfg.SampleRate)),
	)
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(metricInterval))),
	)

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// samplerFor honours the parent decision so a traced caller stays traced.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func (p *Provider) initInstruments() error {
	var err error
	p.operations, err = p.meter.Int64Counter("deleteflow.operations",
		metric.WithDescription("Workflow operations by name and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}
	p.duration, err = p.meter.Float64Histogram("deleteflow.operation.duration",
		metric.WithDescription("Workflow operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15),
	)
	if err != nil {
		return err
	}
	p.inflight, err = p.meter.Int64UpDownCounter("deleteflow.operations.inflight",
		metric.WithDescription("Workflow operations in progress"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Shutdown flushes and stops the exporters, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the workflow tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the workflow meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// SLO returns the tracker fed by TrackOperation.
func (p *Provider) SLO() *SLOTracker { return p.slo }

// TrackOperation starts a span for the named operation. The returned
// function must be called exactly once with the operation's error; it
// ends the span and records the metrics and the SLO sample.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	op := attribute.String("operation", name)
	p.inflight.Add(ctx, 1, metric.WithAttributes(op))

	return ctx, func(err error) {
		elapsed := time.Since(start)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		set := metric.WithAttributes(op, AttrOutcome.String(outcome))
		p.inflight.Add(ctx, -1, metric.WithAttributes(op))
		p.operations.Add(ctx, 1, set)
		p.duration.Record(ctx, elapsed.Seconds(), set)

		SetSpanStatus(ctx, err)
		p.slo.Record(Sample{Operation: name, Latency: elapsed, OK: err == nil})
		span.End()
	}
}
