package hitl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// Metadata keys that gate a message into the approval queue.
const (
	MetadataSensitiveTransaction = "sensitive_transaction"
	MetadataRequiresApproval     = "requires_approval"
	MetadataApprovalReason       = "approval_reason"
)

// Decision is the outcome of processing a message through the middleware.
type Decision string

const (
	// Delivered means the message passed the gate (or was approved) and
	// should continue down the pipeline.
	Delivered Decision = "delivered"
	// Suspended means no terminal decision was reached before the caller's
	// context ended; the request remains queued.
	Suspended Decision = "suspended"
	// Rejected means the message was rejected or its approval expired; it
	// must be dropped.
	Rejected Decision = "rejected"
)

// TimeoutReason is the rejection reason recorded when an approval expires.
const TimeoutReason = "timeout"

// DefaultSweepInterval bounds the cadence of the expiry sweeper.
const DefaultSweepInterval = time.Second

type (
	// Middleware intercepts messages flagged for approval and blocks on the
	// queue until the request resolves.
	Middleware struct {
		queue   *Queue
		bus     *events.Bus
		logger  telemetry.Logger
		enabled bool
	}

	// Option configures a Middleware.
	Option func(*Middleware)

	// Result reports the middleware decision for one message.
	Result struct {
		// Decision is the processing outcome.
		Decision Decision
		// Message is the original message when Decision is Delivered, nil
		// otherwise.
		Message *message.Message
		// RequestID identifies the approval request when one was created.
		RequestID string
		// Reason carries the rejection reason for Rejected outcomes.
		Reason string
	}
)

// WithEventBus sets the bus for approval lifecycle events.
func WithEventBus(bus *events.Bus) Option {
	return func(m *Middleware) { m.bus = bus }
}

// WithLogger sets the middleware logger.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Middleware) { m.logger = l }
}

// WithEnabled toggles the gate. A disabled middleware is a pass-through.
func WithEnabled(enabled bool) Option {
	return func(m *Middleware) { m.enabled = enabled }
}

// NewMiddleware creates a HITL middleware over the given queue. The gate is
// enabled by default.
func NewMiddleware(queue *Queue, opts ...Option) *Middleware {
	m := &Middleware{queue: queue, enabled: true}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.logger == nil {
		m.logger = telemetry.NewNoopLogger()
	}
	return m
}

// Queue returns the approval queue the middleware blocks on.
func (m *Middleware) Queue() *Queue { return m.queue }

// Gated reports whether the message requires approval: either its flag is
// set or its metadata carries a gating key.
func Gated(msg *message.Message) bool {
	if msg.RequiresApproval {
		return true
	}
	if msg.Metadata == nil {
		return false
	}
	if v, ok := msg.Metadata[MetadataSensitiveTransaction]; ok && truthy(v) {
		return true
	}
	if v, ok := msg.Metadata[MetadataRequiresApproval]; ok && truthy(v) {
		return true
	}
	return false
}

// Process gates the message. Non-gated messages pass through immediately.
// Gated messages enqueue an approval request, emit hitl.approval_required,
// and block until the request reaches a terminal state or ctx ends:
//
//   - approved: emits hitl.approved and returns the original message;
//   - rejected: emits hitl.rejected and drops the message;
//   - expired: treated as rejected with reason "timeout";
//   - ctx end: the message stays suspended in the queue.
//
// With no deadline configured and no operator decision, Process never
// returns on its own; callers supply an out-of-band cancellation through
// ctx for that case.
func (m *Middleware) Process(ctx context.Context, msg *message.Message) (Result, error) {
	if !m.enabled || !Gated(msg) {
		return Result{Decision: Delivered, Message: msg}, nil
	}

	reason := "message flagged for human approval"
	if msg.Metadata != nil {
		if r, ok := msg.Metadata[MetadataApprovalReason].(string); ok && r != "" {
			reason = r
		}
	}
	requester := msg.SenderID
	if requester == "" {
		requester = "system"
	}

	requestID := uuid.NewString()
	req := m.queue.Add(requestID, msg, reason, requester, nil)
	m.logger.Info(ctx, "approval required", "request_id", requestID, "message_id", msg.ID, "reason", reason)
	m.emit(ctx, events.HITLApprovalRequired, map[string]any{
		"request_id": requestID,
		"message_id": msg.ID,
		"reason":     reason,
	}, msg.CorrelationID)

	select {
	case <-req.Done():
	case <-ctx.Done():
		m.logger.Warn(ctx, "approval wait abandoned", "request_id", requestID)
		return Result{Decision: Suspended, RequestID: requestID}, ctx.Err()
	}

	final, ok := m.queue.Get(requestID)
	if !ok {
		return Result{Decision: Rejected, RequestID: requestID}, nil
	}
	defer m.queue.Remove(requestID)

	switch final.Status {
	case StatusApproved:
		m.emit(ctx, events.HITLApproved, map[string]any{
			"request_id":  requestID,
			"message_id":  msg.ID,
			"approved_by": final.ApprovedBy,
		}, msg.CorrelationID)
		return Result{Decision: Delivered, Message: msg, RequestID: requestID}, nil
	case StatusExpired:
		m.emit(ctx, events.HITLRejected, map[string]any{
			"request_id": requestID,
			"message_id": msg.ID,
			"reason":     TimeoutReason,
		}, msg.CorrelationID)
		return Result{Decision: Rejected, RequestID: requestID, Reason: TimeoutReason}, nil
	default:
		m.emit(ctx, events.HITLRejected, map[string]any{
			"request_id": requestID,
			"message_id": msg.ID,
			"reason":     final.RejectionReason,
		}, msg.CorrelationID)
		return Result{Decision: Rejected, RequestID: requestID, Reason: final.RejectionReason}, nil
	}
}

// StartSweeper runs the expiry sweep at the given cadence (capped at
// DefaultSweepInterval granularity) until ctx ends.
func (m *Middleware) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || interval > DefaultSweepInterval {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if expired := m.queue.CleanupExpired(); len(expired) > 0 {
					m.logger.Info(ctx, "expired approval requests", "count", len(expired))
				}
			}
		}
	}()
}

func (m *Middleware) emit(ctx context.Context, typ events.Type, payload map[string]any, correlationID string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(ctx, events.Event{Type: typ, Payload: payload, Source: "hitl", CorrelationID: correlationID})
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "1" || val == "yes"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return v != nil
	}
}
