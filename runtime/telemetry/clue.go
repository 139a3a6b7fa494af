package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// scope names the instrumentation scope for OTEL meters and tracers, and
// metricPrefix namespaces every metric this runtime records so multiple
// coordination services can share one collector.
const (
	scope        = "github.com/KunjShah01/RL-A2A/runtime"
	metricPrefix = "rla2a."
)

type (
	// ClueLogger delegates to goa.design/clue/log. A non-empty component
	// tag is attached to every entry so the interleaved logs of the
	// registry, routers, gate, and learner stay separable.
	ClueLogger struct {
		component string
	}

	// ClueMetrics records OTEL metrics. Instruments are created once per
	// name and cached; the per-call lookup is a read-lock map hit.
	ClueMetrics struct {
		meter      metric.Meter
		mu         sync.RWMutex
		counters   map[string]metric.Float64Counter
		histograms map[string]metric.Float64Histogram
	}

	// ClueTracer creates OTEL spans from the global TracerProvider.
	ClueTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
// Formatting and debug settings come from the context (set via log.Context
// with log.WithFormat/log.WithDebug at the entry point).
func NewClueLogger() Logger { return ClueLogger{} }

// Named returns a logger that tags every entry with the given component.
func (l ClueLogger) Named(component string) ClueLogger {
	return ClueLogger{component: component}
}

// NewClueMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider before the runtime starts.
func NewClueMetrics() Metrics {
	return &ClueMetrics{
		meter:      otel.Meter(scope),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// NewClueTracer constructs a Tracer backed by the global OTEL
// TracerProvider.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer(scope)}
}

// Debug emits a debug-level entry.
func (l ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, l.fielders(msg, "", keyvals)...)
}

// Info emits an info-level entry.
func (l ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, l.fielders(msg, "", keyvals)...)
}

// Warn emits a warning-severity entry.
func (l ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, l.fielders(msg, "warning", keyvals)...)
}

// Error emits an error-level entry.
func (l ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, l.fielders(msg, "", keyvals)...)
}

// fielders assembles the clue field list for one entry: message first, then
// the component and severity tags when present, then the caller's pairs.
// Keys are stringified rather than dropped so a mistyped key still surfaces
// in the output; an odd trailing key is paired with nil.
func (l ClueLogger) fielders(msg, severity string, keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, 2+len(keyvals)/2)
	fielders = append(fielders, log.KV{K: "msg", V: msg})
	if l.component != "" {
		fielders = append(fielders, log.KV{K: "component", V: l.component})
	}
	if severity != "" {
		fielders = append(fielders, log.KV{K: "severity", V: severity})
	}
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: key, V: v})
	}
	return fielders
}

// IncCounter adds value to the named counter.
func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

// RecordTimer records a duration in seconds on the named histogram.
func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagAttrs(tags)...))
}

// RecordGauge records a point-in-time value. OTEL has no synchronous gauge
// so the sample lands on a histogram under the same name.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *ClueMetrics) counter(name string) (metric.Float64Counter, error) {
	m.mu.RLock()
	counter, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return counter, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if counter, ok = m.counters[name]; ok {
		return counter, nil
	}
	counter, err := m.meter.Float64Counter(metricPrefix + name)
	if err != nil {
		return nil, err
	}
	m.counters[name] = counter
	return counter, nil
}

func (m *ClueMetrics) histogram(name string) (metric.Float64Histogram, error) {
	m.mu.RLock()
	histogram, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return histogram, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if histogram, ok = m.histograms[name]; ok {
		return histogram, nil
	}
	histogram, err := m.meter.Float64Histogram(metricPrefix + name)
	if err != nil {
		return nil, err
	}
	m.histograms[name] = histogram
	return histogram, nil
}

// Start creates a new span, returning the derived context and span handle.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

// Span retrieves the current span from the context.
func (t *ClueTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

// End finalizes the span.
func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

// AddEvent records a span event with the given attributes.
func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(eventAttrs(attrs)...))
}

// SetStatus sets the span status code and description.
func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// RecordError records the error and marks the span status accordingly, so
// callers never forget the second half.
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	if err == nil {
		return
	}
	s.span.RecordError(err, opts...)
	s.span.SetStatus(codes.Error, err.Error())
}

// tagAttrs converts flat tag pairs (k1, v1, k2, v2, ...) into OTEL string
// attributes; an odd trailing key pairs with "".
func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, (len(tags)+1)/2)
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

// eventAttrs converts span-event key-value pairs into typed OTEL
// attributes. The cases cover the values the runtime actually records on
// spans: identifiers and kinds (string), counts and indices (int/int64),
// Q-values, rewards, and metric readings (float64), gate decisions (bool),
// wait and delivery durations (time.Duration, recorded in milliseconds),
// and errors. Anything else is stringified rather than dropped.
func eventAttrs(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, val))
		case int:
			attrs = append(attrs, attribute.Int(key, val))
		case int64:
			attrs = append(attrs, attribute.Int64(key, val))
		case float64:
			attrs = append(attrs, attribute.Float64(key, val))
		case bool:
			attrs = append(attrs, attribute.Bool(key, val))
		case time.Duration:
			attrs = append(attrs, attribute.Float64(key+"_ms", float64(val)/float64(time.Millisecond)))
		case error:
			attrs = append(attrs, attribute.String(key, val.Error()))
		case nil:
			attrs = append(attrs, attribute.String(key, ""))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(val)))
		}
	}
	return attrs
}
