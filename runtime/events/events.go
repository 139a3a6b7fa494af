// Package events provides the in-process publish/subscribe bus used for
// loose coupling between runtime components. The bus keeps a bounded ring of
// recent events for inspection and never blocks on a subscriber: callbacks
// must be non-blocking and long-running reactions spawn their own goroutines.
package events

import (
	"context"
	"sync"
	"time"
)

// Type identifies an event kind. The enumeration is closed: components only
// emit the kinds declared here.
type Type string

const (
	AgentCreated         Type = "agent.created"
	AgentUpdated         Type = "agent.updated"
	AgentDeleted         Type = "agent.deleted"
	MessageSent          Type = "message.sent"
	MessageReceived      Type = "message.received"
	MessageProcessed     Type = "message.processed"
	TaskCreated          Type = "task.created"
	TaskCompleted        Type = "task.completed"
	TaskFailed           Type = "task.failed"
	WorkflowStarted      Type = "workflow.started"
	WorkflowCompleted    Type = "workflow.completed"
	HITLApprovalRequired Type = "hitl.approval_required"
	HITLApproved         Type = "hitl.approved"
	HITLRejected         Type = "hitl.rejected"
	RLReward             Type = "rl.reward"
	RLModelUpdated       Type = "rl.model_updated"
	FRLAggregation       Type = "frl.aggregation"
	ManifestUpdated      Type = "manifest.updated"
)

// DefaultMaxHistory bounds the event ring when no explicit limit is given.
const DefaultMaxHistory = 1000

type (
	// Event is a single observational record published on the bus. Payloads
	// are weak copies: subscribers must not mutate them.
	Event struct {
		// Type is the event kind.
		Type Type
		// Payload carries event-specific data.
		Payload map[string]any
		// Timestamp records when the event was emitted.
		Timestamp time.Time
		// Source tags the emitting component.
		Source string
		// CorrelationID threads events belonging to one originating action.
		CorrelationID string
	}

	// Handler receives emitted events. Handlers must be non-blocking.
	Handler func(ctx context.Context, e Event)

	// Bus is the in-process pub/sub hub. It is safe for concurrent emission
	// and subscription.
	Bus struct {
		mu          sync.RWMutex
		subscribers map[Type][]subscription
		history     []Event
		maxHistory  int
		nextID      int
	}

	subscription struct {
		id      int
		handler Handler
	}

	// Subscription identifies a registered handler so it can be removed.
	Subscription struct {
		eventType Type
		id        int
	}

	// Option configures a Bus.
	Option func(*Bus)
)

// WithMaxHistory overrides the bounded history size.
func WithMaxHistory(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// NewBus creates an event bus with the default bounded history.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[Type][]subscription),
		maxHistory:  DefaultMaxHistory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers a handler for the given event type and returns a token
// for Unsubscribe.
func (b *Bus) Subscribe(eventType Type, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: b.nextID, handler: handler})
	return Subscription{eventType: eventType, id: b.nextID}
}

// Unsubscribe removes a previously registered handler. Unknown tokens are
// ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit records the event in the history ring and invokes every subscriber for
// its type. Subscribers run on the caller's goroutine; panics are contained
// so one misbehaving subscriber cannot take down the emitter.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	subs := make([]subscription, len(b.subscribers[e.Type]))
	copy(subs, b.subscribers[e.Type])
	b.mu.Unlock()

	for _, s := range subs {
		invoke(ctx, s.handler, e)
	}
}

func invoke(ctx context.Context, h Handler, e Event) {
	defer func() {
		// A panicking subscriber must not unwind into the emitter.
		_ = recover()
	}()
	h(ctx, e)
}

// History returns up to limit recent events, optionally filtered by type.
// A zero or negative limit returns the full retained window. Events are
// returned oldest first.
func (b *Bus) History(eventType Type, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.history {
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ClearHistory drops all retained events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
