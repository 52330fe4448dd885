// Package telemetry wires OpenTelemetry tracing for the CLI.
//
// memotrace has no collector to export to; when enabled, finished spans are
// written to the structured log instead.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup registers a global tracer provider that logs finished spans to
// logger at debug level. When enabled is false it registers nothing and
// returns a no-op shutdown function.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(enabled bool, logger *slog.Logger) (shutdown func(context.Context) error) {
	if !enabled {
		return func(context.Context) error { return nil }
	}
	tp := NewProvider(logger)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// NewProvider creates a tracer provider that logs every finished span.
func NewProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	)
}

// logProcessor is a synchronous span processor writing spans to slog.
type logProcessor struct {
	logger *slog.Logger
}

var _ sdktrace.SpanProcessor = (*logProcessor)(nil)

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := []any{
		"span", s.Name(),
		"duration", s.EndTime().Sub(s.StartTime()),
		"status", s.Status().Code.String(),
	}
	for _, kv := range s.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}
	p.logger.Debug("span ended", attrs...)
}

func (p *logProcessor) Shutdown(context.Context) error   { return nil }
func (p *logProcessor) ForceFlush(context.Context) error { return nil }
