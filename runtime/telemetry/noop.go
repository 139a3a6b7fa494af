package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// nop is the single do-nothing implementation behind every noop
// constructor: one value satisfies Logger, Metrics, Tracer, and Span, which
// keeps the component constructors' "default to noop" branches to one
// allocation-free value each.
type nop struct{}

// NewNoopLogger constructs a Logger that discards all log messages.
func NewNoopLogger() Logger { return nop{} }

// NewNoopMetrics constructs a Metrics recorder that discards all metrics.
func NewNoopMetrics() Metrics { return nop{} }

// NewNoopTracer constructs a Tracer that creates inert spans.
func NewNoopTracer() Tracer { return nop{} }

var (
	_ Logger  = nop{}
	_ Metrics = nop{}
	_ Tracer  = nop{}
	_ Span    = nop{}
)

func (nop) Debug(context.Context, string, ...any) {}
func (nop) Info(context.Context, string, ...any)  {}
func (nop) Warn(context.Context, string, ...any)  {}
func (nop) Error(context.Context, string, ...any) {}

func (nop) IncCounter(string, float64, ...string)        {}
func (nop) RecordTimer(string, time.Duration, ...string) {}
func (nop) RecordGauge(string, float64, ...string)       {}

// Start returns the context unchanged with an inert span.
func (n nop) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, n
}

// Span returns an inert span.
func (n nop) Span(context.Context) Span { return n }

func (nop) End(...trace.SpanEndOption)              {}
func (nop) AddEvent(string, ...any)                 {}
func (nop) SetStatus(codes.Code, string)            {}
func (nop) RecordError(error, ...trace.EventOption) {}
