// Package pulse publishes event-bus events to goa.design/pulse streams so
// peer instances and dashboards can observe the runtime over Redis. It
// mirrors the layering used by existing Pulse deployments: services build a
// Redis client, pass it to the Pulse client, and attach the resulting sink
// to the bus.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// streamPrefix namespaces the derived Pulse stream names.
const streamPrefix = "rla2a"

type (
	// Client exposes the subset of Pulse APIs required by the event sink.
	Client interface {
		// Stream returns a handle to the named Pulse stream, creating it if
		// needed.
		Stream(name string) (Stream, error)
		// Close releases resources owned by the client.
		Close(ctx context.Context) error
	}

	// Stream exposes the publish operation of a Pulse stream.
	Stream interface {
		// Add publishes an event with the given name and payload, returning
		// the Redis-assigned entry ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
	}

	// ClientOptions configures the Pulse client.
	ClientOptions struct {
		// Redis is the connection backing the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds entries kept per stream. Zero uses Pulse
		// defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Envelope wraps bus events for transmission over Pulse streams.
	Envelope struct {
		// Type is the event kind (e.g. "message.sent").
		Type string `json:"type"`
		// Payload carries the event-specific data.
		Payload map[string]any `json:"payload,omitempty"`
		// Timestamp records when the event was emitted (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Source tags the emitting component.
		Source string `json:"source,omitempty"`
		// CorrelationID threads events of one originating action.
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	// Sink bridges the in-process event bus onto Pulse streams. Publishing
	// is best-effort: failures are logged and never propagate to emitters.
	Sink struct {
		client Client
		logger telemetry.Logger
		subs   []events.Subscription
	}

	client struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}
)

// NewClient constructs a Pulse client backed by the provided Redis
// connection.
func NewClient(opts ClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
	}, nil
}

// Stream returns a handle to the named Pulse stream.
func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op because the caller owns the Redis connection lifecycle.
func (c *client) Close(context.Context) error { return nil }

// Add publishes an event to the stream with an optional timeout.
func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

// NewSink creates a sink over the given Pulse client.
func NewSink(c Client, logger telemetry.Logger) (*Sink, error) {
	if c == nil {
		return nil, errors.New("pulse client is required")
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Sink{client: c, logger: logger}, nil
}

// Attach subscribes the sink to every event kind on the bus. Call Detach to
// remove the subscriptions.
func (s *Sink) Attach(bus *events.Bus) {
	kinds := []events.Type{
		events.AgentCreated, events.AgentUpdated, events.AgentDeleted,
		events.MessageSent, events.MessageReceived, events.MessageProcessed,
		events.TaskCreated, events.TaskCompleted, events.TaskFailed,
		events.WorkflowStarted, events.WorkflowCompleted,
		events.HITLApprovalRequired, events.HITLApproved, events.HITLRejected,
		events.RLReward, events.RLModelUpdated, events.FRLAggregation,
		events.ManifestUpdated,
	}
	for _, kind := range kinds {
		s.subs = append(s.subs, bus.Subscribe(kind, s.publish))
	}
}

// Detach removes the sink's subscriptions from the bus.
func (s *Sink) Detach(bus *events.Bus) {
	for _, sub := range s.subs {
		bus.Unsubscribe(sub)
	}
	s.subs = nil
}

// Close releases the underlying Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// publish forwards one bus event to its family stream. Errors are logged,
// never returned: the bus must not block or fail on a subscriber.
func (s *Sink) publish(ctx context.Context, e events.Event) {
	env := Envelope{
		Type:          string(e.Type),
		Payload:       e.Payload,
		Timestamp:     e.Timestamp,
		Source:        e.Source,
		CorrelationID: e.CorrelationID,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn(ctx, "encoding pulse envelope failed", "type", string(e.Type), "error", err.Error())
		return
	}
	stream, err := s.client.Stream(streamID(e.Type))
	if err != nil {
		s.logger.Warn(ctx, "opening pulse stream failed", "type", string(e.Type), "error", err.Error())
		return
	}
	if _, err := stream.Add(ctx, string(e.Type), payload); err != nil {
		s.logger.Warn(ctx, "publishing pulse event failed", "type", string(e.Type), "error", err.Error())
	}
}

// streamID derives the stream name from the event kind's family: the
// segment before the first dot ("message.sent" publishes to
// "rla2a.message").
func streamID(t events.Type) string {
	family := string(t)
	if i := strings.IndexByte(family, '.'); i > 0 {
		family = family[:i]
	}
	return streamPrefix + "." + family
}
