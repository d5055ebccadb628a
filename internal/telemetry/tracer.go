// Package telemetry provides OpenTelemetry span export for turns, LLM
// requests, and tool calls. A Tracer is always safe to use: with no endpoint
// configured it still creates spans, it just never exports them anywhere.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "agentsmithy"

// Config configures span export. Endpoint empty (the default) yields a
// no-op tracer: spans are created and immediately discarded.
type Config struct {
	Endpoint       string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
	Insecure       bool
}

// Tracer creates spans for one project's turns, LLM requests, and tool
// calls. It satisfies internal/agentloop's Tracer and internal/toolexec's
// Tracer interfaces without either package importing this one.
type Tracer struct {
	tracer trace.Tracer
}

// New builds a Tracer from cfg and returns a shutdown func that flushes and
// closes the exporter. Call shutdown once, on process exit.
func New(cfg Config) (*Tracer, func(context.Context) error) {
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(serviceName)}, noopShutdown
	}

	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(serviceName)}, noopShutdown
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{tracer: provider.Tracer(serviceName)}, provider.Shutdown
}

func noopShutdown(context.Context) error { return nil }

// StartTurn satisfies internal/agentloop's Tracer. The returned func ends
// the span, recording err on it if non-nil.
func (t *Tracer) StartTurn(ctx context.Context, dialogID string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "turn", trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("dialog_id", dialogID)))
	return ctx, finisher(span)
}

// StartLLMRequest satisfies internal/agentloop's Tracer.
func (t *Tracer) StartLLMRequest(ctx context.Context, provider, model string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("llm.%s", provider), trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		))
	return ctx, finisher(span)
}

// StartToolSpan satisfies internal/toolexec's Tracer.
func (t *Tracer) StartToolSpan(ctx context.Context, toolName string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("tool.%s", toolName), trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("tool.name", toolName)))
	return ctx, finisher(span)
}

// finisher returns a func that records err on span (if non-nil), sets the
// span status accordingly, and ends it.
func finisher(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
