package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"chaosmonkey/internal/config"
)

const instrumentationName = "chaosmonkey"

// TracingService owns the tracer provider used to emit one span per experiment run.
type TracingService struct {
	config   config.TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
}

// NewTracingService creates a new tracing service. Console spans go to stdout.
func NewTracingService(cfg config.TracingConfig) (*TracingService, error) {
	return newTracingService(cfg, os.Stdout)
}

func newTracingService(cfg config.TracingConfig, consoleOut io.Writer) (*TracingService, error) {
	if !cfg.Enabled {
		return &TracingService{
			config: cfg,
			tracer: otel.Tracer(instrumentationName + "-noop"),
		}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter trace.SpanExporter
	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithHeaders(cfg.OTLPHeaders),
			otlptracehttp.WithInsecure(),
		)
		exporter, err = otlptrace.New(context.Background(), client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "console":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(consoleOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	samplingRatio := cfg.SamplingRatio
	if samplingRatio <= 0 {
		samplingRatio = 1.0
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter),
		trace.WithSampler(trace.TraceIDRatioBased(samplingRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingService{
		config:   cfg,
		tracer:   tp.Tracer(instrumentationName),
		provider: tp,
	}, nil
}

// StartSpan starts a new span
func (ts *TracingService) StartSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, name, opts...)
}

// RecordError records an error in the current span
func (ts *TracingService) RecordError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Close flushes pending spans and shuts the provider down.
func (ts *TracingService) Close(ctx context.Context) error {
	if ts.provider != nil {
		return ts.provider.Shutdown(ctx)
	}
	return nil
}

// GetTracer returns the underlying tracer
func (ts *TracingService) GetTracer() oteltrace.Tracer {
	return ts.tracer
}

// RunAttributes are the span attributes attached to an experiment run.
func RunAttributes(runID, experiment, kind, target string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("chaos.run_id", runID),
		attribute.String("chaos.experiment", experiment),
		attribute.String("chaos.kind", kind),
		attribute.String("component", "chaos"),
	}
	if target != "" {
		attrs = append(attrs, attribute.String("chaos.target", target))
	}
	return attrs
}
