// Package telemetry wraps structured logging, tracing, and metrics for
// witnessd's build-time components (specification, instrumentor,
// tracker) and its runtime dispatcher.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// Logger is the structured logging interface used throughout
	// witnessd. Implementations must be safe for concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Tracer starts spans around instrumentation and dispatch work.
	Tracer interface {
		Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span)
	}

	// Span is an in-flight trace span.
	Span interface {
		End()
		SetError(err error)
	}

	// Metrics records counters and histograms for probe activity.
	Metrics interface {
		IncCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)
		RecordDuration(ctx context.Context, name string, d time.Duration, attrs ...attribute.KeyValue)
	}

	// ClueLogger delegates to goa.design/clue/log.
	ClueLogger struct{}

	// OTelTracer delegates to the global OTEL TracerProvider.
	OTelTracer struct {
		tracer trace.Tracer
	}

	// OTelMetrics delegates to the global OTEL MeterProvider.
	OTelMetrics struct {
		meter      metric.Meter
		counters   map[string]metric.Int64Counter
		histograms map[string]metric.Float64Histogram
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log. The
// logger reads formatting/debug settings from the context.
func NewClueLogger() Logger { return ClueLogger{} }

// NewOTelTracer constructs a Tracer using the named OTEL tracer.
func NewOTelTracer(instrumentationName string) Tracer {
	return &OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

// NewOTelMetrics constructs a Metrics recorder using the named OTEL meter.
func NewOTelMetrics(instrumentationName string) *OTelMetrics {
	return &OTelMetrics{
		meter:      otel.Meter(instrumentationName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := append([]log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}, kvToClue(keyvals)...)
	log.Print(ctx, fielders...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func kvToClue(keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fielders = append(fielders, log.KV{K: key, V: keyvals[i+1]})
	}
	return fielders
}

func (t *OTelTracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (m *OTelMetrics) IncCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Int64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}

func (m *OTelMetrics) RecordDuration(ctx context.Context, name string, d time.Duration, attrs ...attribute.KeyValue) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attrs...))
}

// NoopLogger discards every message. Useful for tests.
type NoopLogger struct{}

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}
