package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages the lifecycle of the OpenTelemetry tracer.
// When no OTLP endpoint is configured the provider is never created and
// spans fall back to the no-op tracer.
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// NewTracerProvider creates an OTLP-exporting tracer provider and installs
// it as the global OpenTelemetry provider.
func NewTracerProvider(serviceName, serviceVersion, otlpEndpoint string) (*TracerProvider, error) {
	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(), // TODO: Add TLS configuration
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.ServiceNamespaceKey.String("platformbuilds"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()), // TODO: Configure sampling
	)

	otel.SetTracerProvider(tp)

	return &TracerProvider{tp: tp}, nil
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.tp.Shutdown(ctx)
}

// PipelineTracer provides distributed tracing around ingestion pipeline
// stages and search calls.
type PipelineTracer struct {
	tracer trace.Tracer
}

// NewPipelineTracer creates a tracer bound to the current global provider.
// Without a registered provider every span it starts is a no-op.
func NewPipelineTracer(serviceName string) *PipelineTracer {
	return &PipelineTracer{tracer: otel.Tracer(serviceName)}
}

// StartRecordSpan starts the span covering one record's trip through the
// pipeline.
func (pt *PipelineTracer) StartRecordSpan(ctx context.Context, source string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "ingest_record",
		trace.WithAttributes(
			attribute.String("log.source", source),
			attribute.String("component", "ingest-pipeline"),
		),
	)
}

// StartStageSpan starts a child span for one bulkhead stage (cache,
// evaluate, index, recent_index, broadcast).
func (pt *PipelineTracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline_stage",
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.String("component", "ingest-pipeline"),
		),
	)
}

// StartSearchSpan starts a span for a structural search call.
func (pt *PipelineTracer) StartSearchSpan(ctx context.Context, target, query string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "log_search",
		trace.WithAttributes(
			attribute.String("search.target", target),
			attribute.String("search.query", query),
			attribute.String("component", "search"),
		),
	)
}

// RecordParsedAttributes annotates the record span with what parsing found.
func (pt *PipelineTracer) RecordParsedAttributes(span trace.Span, format, level string) {
	span.SetAttributes(
		attribute.String("log.format", format),
		attribute.String("log.level", level),
	)
}

// RecordSearchMetrics records search performance on a span.
func (pt *PipelineTracer) RecordSearchMetrics(span trace.Span, duration time.Duration, total int64, timedOut bool) {
	span.SetAttributes(
		attribute.Int64("search.duration_ms", duration.Milliseconds()),
		attribute.Int64("search.total_hits", total),
		attribute.Bool("search.timed_out", timedOut),
	)
	if timedOut {
		span.SetStatus(codes.Error, "search deadline hit, partial result")
	}
}

// RecordError records an error on a span
func (pt *PipelineTracer) RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
	span.RecordError(err)
}

// Global tracer instance
var globalPipelineTracer = NewPipelineTracer("atalaya")

// InitGlobalTracer rebinds the global pipeline tracer, picking up the
// provider installed by NewTracerProvider.
func InitGlobalTracer(serviceName string) {
	globalPipelineTracer = NewPipelineTracer(serviceName)
}

// GetGlobalTracer returns the global pipeline tracer
func GetGlobalTracer() *PipelineTracer {
	return globalPipelineTracer
}
