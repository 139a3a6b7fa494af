// Package admin exposes the protocol-neutral administrative surface over
// the wired runtime components: agent and manifest management, message
// sending, HITL decisions, RL statistics, and federated aggregation
// triggers. The serving layer mounts these operations on whatever transport
// it picks.
package admin

import (
	"context"

	"github.com/google/uuid"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/hitl"
	"github.com/KunjShah01/RL-A2A/runtime/manifest"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/middleware"
	"github.com/KunjShah01/RL-A2A/runtime/registry"
	"github.com/KunjShah01/RL-A2A/runtime/rl"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/routing"
)

type (
	// Service bundles the administrative operations. All methods delegate
	// to the owning components; the service itself holds no state.
	Service struct {
		registry  *registry.Registry
		manifests *manifest.Service
		router    *routing.MessageRouter
		gate      *hitl.Middleware
		learner   *rl.Engine
		limiter   *middleware.RateLimiter
		validator *middleware.Validator
	}

	// Options carries the component dependencies.
	Options struct {
		Registry  *registry.Registry
		Manifests *manifest.Service
		Router    *routing.MessageRouter
		Gate      *hitl.Middleware
		Learner   *rl.Engine
		Limiter   *middleware.RateLimiter
		Validator *middleware.Validator
	}

	// SendRequest describes an administrative message send: either directly
	// addressed or routed by capability.
	SendRequest struct {
		SenderID   string
		ReceiverID string
		Capability string
		Content    any
		Type       message.Type
		Priority   message.Priority
		Metadata   map[string]any
	}
)

// NewService creates the administrative surface.
func NewService(opts Options) *Service {
	return &Service{
		registry:  opts.Registry,
		manifests: opts.Manifests,
		router:    opts.Router,
		gate:      opts.Gate,
		learner:   opts.Learner,
		limiter:   opts.Limiter,
		validator: opts.Validator,
	}
}

// CreateAgent registers a new agent.
func (s *Service) CreateAgent(ctx context.Context, a *agent.Agent) error {
	return s.registry.Register(ctx, a)
}

// GetAgent returns the agent with the given identifier.
func (s *Service) GetAgent(id string) (*agent.Agent, error) {
	return s.registry.Get(id)
}

// ListAgents returns all agents, optionally filtered by status.
func (s *Service) ListAgents(status agent.Status) []*agent.Agent {
	return s.registry.List(status)
}

// DeleteAgent removes the agent and its manifest.
func (s *Service) DeleteAgent(ctx context.Context, id string) (bool, error) {
	removed := s.registry.Unregister(ctx, id)
	if removed {
		if _, err := s.manifests.Delete(ctx, id); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// CreateManifest installs or replaces the agent's manifest.
func (s *Service) CreateManifest(ctx context.Context, agentID string, data manifest.Data) (*manifest.Manifest, error) {
	a, err := s.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	m, err := s.manifests.CreateOrReplace(ctx, a, data)
	if err != nil {
		return nil, err
	}
	version := m.Version
	if err := s.registry.Update(ctx, agentID, registry.Patch{ManifestVersion: &version}); err != nil {
		return nil, err
	}
	return m, nil
}

// GetManifest returns the agent's manifest.
func (s *Service) GetManifest(ctx context.Context, agentID string) (*manifest.Manifest, error) {
	return s.manifests.Get(ctx, agentID)
}

// SearchManifests queries manifests by capability or metric constraints.
// An empty capability searches by metrics only.
func (s *Service) SearchManifests(ctx context.Context, capability string, filter manifest.MetricFilter) ([]*manifest.Manifest, error) {
	if capability != "" {
		return s.manifests.FindByCapability(ctx, capability)
	}
	return s.manifests.FindByMetrics(ctx, filter)
}

// SendMessage validates, rate-limits, gates, and routes a message. The
// returned message id identifies the created message even when the gate
// rejects it.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Check(req.SenderID); err != nil {
			return "", err
		}
	}

	m := message.New(req.SenderID, req.ReceiverID, req.Content, req.Type)
	if req.Priority != 0 {
		m.Priority = req.Priority.Clamp()
	}
	for k, v := range req.Metadata {
		m.Metadata[k] = v
	}
	if req.Capability != "" {
		m.Metadata[routing.MetadataRequiredCapability] = req.Capability
	}

	if s.validator != nil {
		if err := s.validator.Validate(m); err != nil {
			return "", err
		}
	}

	if s.gate != nil {
		result, err := s.gate.Process(ctx, m)
		if err != nil {
			return m.ID, err
		}
		switch result.Decision {
		case hitl.Rejected:
			kind := rlerrors.KindApprovalRejected
			if result.Reason == hitl.TimeoutReason {
				kind = rlerrors.KindApprovalExpired
			}
			return m.ID, rlerrors.New(kind, "message %s was not approved: %s", m.ID, result.Reason)
		case hitl.Suspended:
			return m.ID, rlerrors.New(rlerrors.KindInvalidState, "message %s is awaiting approval", m.ID)
		}
		m = result.Message
	}

	return m.ID, s.router.Route(ctx, m)
}

// ListPendingApprovals returns the pending HITL requests.
func (s *Service) ListPendingApprovals() []*hitl.Request {
	return s.gate.Queue().ListPending()
}

// ApproveRequest approves a pending HITL request.
func (s *Service) ApproveRequest(requestID, approver string) bool {
	return s.gate.Queue().Approve(requestID, approver)
}

// RejectRequest rejects a pending HITL request.
func (s *Service) RejectRequest(requestID, approver, reason string) bool {
	return s.gate.Queue().Reject(requestID, approver, reason)
}

// RLStats returns learning and federation statistics for the agent.
func (s *Service) RLStats(agentID string) map[string]any {
	return s.learner.Stats(agentID)
}

// RecordOutcome feeds an observed interaction into the RL engine and
// returns the updated Q-value.
func (s *Service) RecordOutcome(ctx context.Context, agentID, state, action, nextState string, outcome rl.Outcome) float64 {
	return s.learner.CalculateAndUpdate(ctx, agentID, state, action, nextState, outcome)
}

// TriggerAggregation applies a federated update for the agent, reporting
// whether one was applied.
func (s *Service) TriggerAggregation(ctx context.Context, agentID string) bool {
	return s.learner.ApplyFederatedUpdate(ctx, agentID)
}

// NewRequestID allocates an identifier for callers that need to correlate
// administrative operations.
func (s *Service) NewRequestID() string { return uuid.NewString() }
