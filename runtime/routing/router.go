package routing

import (
	"context"
	"time"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/registry"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// Metadata keys interpreted by the message router.
const (
	// MetadataRequiredCapability routes an unaddressed message through the
	// cost-aware router.
	MetadataRequiredCapability = "required_capability"
)

// DefaultDeliveryTimeout bounds delivery calls whose context carries no
// deadline.
const DefaultDeliveryTimeout = 30 * time.Second

type (
	// Deliverer is the external delivery channel: it hands a finalized
	// message to the receiving agent. Implementations may suspend; the
	// router bounds them with a timeout and never waits for a reply.
	Deliverer interface {
		Deliver(ctx context.Context, m *message.Message) error
	}

	// DelivererFunc adapts a function to the Deliverer interface.
	DelivererFunc func(ctx context.Context, m *message.Message) error

	// MessageRouter resolves message addressing against the registry and the
	// cost-aware router and dispatches to the delivery channel.
	MessageRouter struct {
		registry  *registry.Registry
		costAware *CostAwareRouter
		deliverer Deliverer
		bus       *events.Bus
		logger    telemetry.Logger
		timeout   time.Duration
	}

	// RouterOption configures a MessageRouter.
	RouterOption func(*MessageRouter)
)

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, m *message.Message) error { return f(ctx, m) }

// WithDeliverer sets the delivery channel. The default discards messages,
// which is only useful in tests.
func WithDeliverer(d Deliverer) RouterOption {
	return func(r *MessageRouter) { r.deliverer = d }
}

// WithRouterEventBus sets the bus for message.sent events.
func WithRouterEventBus(bus *events.Bus) RouterOption {
	return func(r *MessageRouter) { r.bus = bus }
}

// WithRouterLogger sets the router logger.
func WithRouterLogger(l telemetry.Logger) RouterOption {
	return func(r *MessageRouter) { r.logger = l }
}

// WithDeliveryTimeout overrides the default delivery timeout applied when
// the caller's context has no deadline.
func WithDeliveryTimeout(d time.Duration) RouterOption {
	return func(r *MessageRouter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewMessageRouter creates a message router over the given registry and
// cost-aware router.
func NewMessageRouter(reg *registry.Registry, costAware *CostAwareRouter, opts ...RouterOption) *MessageRouter {
	r := &MessageRouter{
		registry:  reg,
		costAware: costAware,
		timeout:   DefaultDeliveryTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	if r.deliverer == nil {
		r.deliverer = DelivererFunc(func(context.Context, *message.Message) error { return nil })
	}
	return r
}

// SetStrategy forwards the routing strategy to the cost-aware router.
func (r *MessageRouter) SetStrategy(s Strategy) {
	r.costAware.SetStrategy(s)
}

// Route resolves the message's addressing and dispatches it:
//
//  1. an explicit receiver is dispatched directly;
//  2. a required_capability metadata hint delegates to the cost-aware router;
//  3. notifications broadcast;
//  4. anything else fails with NoRoute.
func (r *MessageRouter) Route(ctx context.Context, m *message.Message) error {
	if m.ReceiverID != "" {
		return r.dispatch(ctx, m, m.ReceiverID)
	}

	if capability, ok := m.Metadata[MetadataRequiredCapability].(string); ok && capability != "" {
		agentID, err := r.costAware.Select(ctx, capability, "", Constraints{})
		if err != nil {
			return err
		}
		if agentID != "" {
			m.ReceiverID = agentID
			return r.dispatch(ctx, m, agentID)
		}
		return rlerrors.New(rlerrors.KindNoRoute, "no agent provides capability %q", capability)
	}

	if m.Type == message.TypeNotification {
		return r.Broadcast(ctx, m)
	}

	return rlerrors.New(rlerrors.KindNoRoute, "message %s has no receiver and no routing hint", m.ID)
}

// RouteByCapability selects an agent for the capability and dispatches the
// message to it.
func (r *MessageRouter) RouteByCapability(ctx context.Context, m *message.Message, capability string, strategy Strategy) error {
	agentID, err := r.costAware.Select(ctx, capability, strategy, Constraints{})
	if err != nil {
		return err
	}
	if agentID == "" {
		return rlerrors.New(rlerrors.KindNoRoute, "no agent provides capability %q", capability)
	}
	m.ReceiverID = agentID
	return r.dispatch(ctx, m, agentID)
}

// Broadcast delivers the message to every agent matching the metadata
// capability hint, or to every active agent when no hint is present. It
// succeeds iff at least one delivery succeeded.
func (r *MessageRouter) Broadcast(ctx context.Context, m *message.Message) error {
	var ids []string
	if capability, ok := m.Metadata[MetadataRequiredCapability].(string); ok && capability != "" {
		for _, a := range r.registry.ListByCapability(capability) {
			ids = append(ids, a.ID)
		}
	} else {
		for _, a := range r.registry.List(agent.StatusActive) {
			ids = append(ids, a.ID)
		}
	}

	delivered := 0
	for _, id := range ids {
		dup := *m
		dup.ReceiverID = id
		if err := r.dispatch(ctx, &dup, id); err != nil {
			r.logger.Warn(ctx, "broadcast delivery failed", "message_id", m.ID, "agent_id", id, "error", err.Error())
			continue
		}
		delivered++
	}
	r.logger.Info(ctx, "broadcast complete", "message_id", m.ID, "delivered", delivered, "targets", len(ids))
	if delivered == 0 {
		return rlerrors.New(rlerrors.KindNoRoute, "broadcast of %s reached no agent", m.ID)
	}
	return nil
}

// dispatch finalizes addressing, emits message.sent, and hands the message
// to the delivery channel. The router never waits for a reply.
func (r *MessageRouter) dispatch(ctx context.Context, m *message.Message, agentID string) error {
	a, err := r.registry.Get(agentID)
	if err != nil {
		return err
	}
	m.ReceiverID = a.ID
	if a.DID != "" {
		m.ReceiverDID = a.DID
	}

	if r.bus != nil {
		r.bus.Emit(ctx, events.Event{
			Type: events.MessageSent,
			Payload: map[string]any{
				"message_id":  m.ID,
				"sender_id":   m.SenderID,
				"receiver_id": m.ReceiverID,
			},
			Source:        "router",
			CorrelationID: m.CorrelationID,
		})
	}

	deliverCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.deliverer.Deliver(deliverCtx, m); err != nil {
		return rlerrors.Wrap(rlerrors.KindTransient, err, "delivering message %s to %s", m.ID, agentID)
	}
	r.logger.Info(ctx, "routed message", "message_id", m.ID, "receiver_id", agentID)
	return nil
}
