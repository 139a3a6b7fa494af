// Package registry provides the authoritative index of agents, keyed by
// identifier and by decentralized identifier. The registry exclusively owns
// Agent records; callers receive deep copies.
package registry

import (
	"context"
	"sync"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

type (
	// Registry is the agent index. It is safe for concurrent use: the two
	// maps are guarded by a single mutex and readers never observe a
	// partially applied update.
	Registry struct {
		mu        sync.RWMutex
		agents    map[string]*agent.Agent
		agentsDID map[string]*agent.Agent
		bus       *events.Bus
		logger    telemetry.Logger
		maxAgents int
	}

	// Patch declares the mutable agent attributes. Nil fields are left
	// untouched; only declared attribute names are ever applied.
	Patch struct {
		Name            *string
		Role            *string
		Status          *agent.Status
		Capabilities    *[]string
		PublicKey       *string
		State           map[string]any
		Metrics         map[string]float64
		SecurityLevel   *string
		AIProvider      *string
		ManifestVersion *string
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithEventBus sets the bus used for lifecycle events.
func WithEventBus(bus *events.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithLogger sets the registry logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMaxAgents caps the number of registered agents. Zero means unbounded.
func WithMaxAgents(n int) Option {
	return func(r *Registry) { r.maxAgents = n }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		agents:    make(map[string]*agent.Agent),
		agentsDID: make(map[string]*agent.Agent),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	return r
}

// Register adds an agent. Duplicate identifiers (or DIDs) are rejected with
// DuplicateIdentifier; registrations beyond the configured cap fail with
// InvalidState.
func (r *Registry) Register(ctx context.Context, a *agent.Agent) error {
	if a == nil || a.ID == "" {
		return rlerrors.New(rlerrors.KindInvalidParams, "agent id is required")
	}

	r.mu.Lock()
	if _, ok := r.agents[a.ID]; ok {
		r.mu.Unlock()
		return rlerrors.New(rlerrors.KindDuplicateIdentifier, "agent %q already registered", a.ID)
	}
	if a.DID != "" {
		if _, ok := r.agentsDID[a.DID]; ok {
			r.mu.Unlock()
			return rlerrors.New(rlerrors.KindDuplicateIdentifier, "did %q already registered", a.DID)
		}
	}
	if r.maxAgents > 0 && len(r.agents) >= r.maxAgents {
		r.mu.Unlock()
		return rlerrors.New(rlerrors.KindInvalidState, "agent capacity %d reached", r.maxAgents)
	}
	stored := a.Clone()
	r.agents[stored.ID] = stored
	if stored.DID != "" {
		r.agentsDID[stored.DID] = stored
	}
	snapshot := stored.Snapshot()
	r.mu.Unlock()

	r.logger.Info(ctx, "registered agent", "agent_id", a.ID, "name", a.Name)
	r.emit(ctx, events.AgentCreated, map[string]any{"agent_id": a.ID, "agent": snapshot})
	return nil
}

// Get returns a copy of the agent with the given identifier.
func (r *Registry) Get(id string) (*agent.Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, rlerrors.New(rlerrors.KindNotFound, "agent %q not found", id)
	}
	return a.Clone(), nil
}

// GetByDID returns a copy of the agent with the given decentralized
// identifier.
func (r *Registry) GetByDID(did string) (*agent.Agent, error) {
	r.mu.RLock()
	a, ok := r.agentsDID[did]
	r.mu.RUnlock()
	if !ok {
		return nil, rlerrors.New(rlerrors.KindNotFound, "did %q not found", did)
	}
	return a.Clone(), nil
}

// Update applies the declared patch fields to the agent and refreshes its
// last-active timestamp. Unknown identifiers yield NotFound.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return rlerrors.New(rlerrors.KindNotFound, "agent %q not found", id)
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Role != nil {
		a.Role = *patch.Role
	}
	if patch.Status != nil {
		a.Status = *patch.Status
	}
	if patch.Capabilities != nil {
		a.Capabilities = append([]string(nil), (*patch.Capabilities)...)
	}
	if patch.PublicKey != nil {
		a.PublicKey = *patch.PublicKey
	}
	for k, v := range patch.State {
		if a.State == nil {
			a.State = make(map[string]any)
		}
		a.State[k] = v
	}
	if patch.Metrics != nil {
		a.UpdateMetrics(patch.Metrics)
	}
	if patch.SecurityLevel != nil {
		a.SecurityLevel = *patch.SecurityLevel
	}
	if patch.AIProvider != nil {
		a.AIProvider = *patch.AIProvider
	}
	if patch.ManifestVersion != nil {
		a.ManifestVersion = *patch.ManifestVersion
	}
	a.Touch()
	r.mu.Unlock()

	r.logger.Debug(ctx, "updated agent", "agent_id", id)
	r.emit(ctx, events.AgentUpdated, map[string]any{"agent_id": id})
	return nil
}

// Unregister removes the agent. The second call for the same identifier
// returns false.
func (r *Registry) Unregister(ctx context.Context, id string) bool {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.agents, id)
	if a.DID != "" {
		delete(r.agentsDID, a.DID)
	}
	r.mu.Unlock()

	r.logger.Info(ctx, "unregistered agent", "agent_id", id)
	r.emit(ctx, events.AgentDeleted, map[string]any{"agent_id": id})
	return true
}

// List returns copies of all agents, optionally filtered by status.
func (r *Registry) List(status agent.Status) []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a.Clone())
	}
	return out
}

// ListByCapability returns copies of every agent advertising the tag.
func (r *Registry) ListByCapability(tag string) []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range r.agents {
		if a.HasCapability(tag) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// ListByRole returns copies of every agent with the given role.
func (r *Registry) ListByRole(role string) []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range r.agents {
		if a.Role == role {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Count returns the number of agents, optionally filtered by status.
func (r *Registry) Count(status agent.Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if status == "" {
		return len(r.agents)
	}
	n := 0
	for _, a := range r.agents {
		if a.Status == status {
			n++
		}
	}
	return n
}

// Exists reports whether an agent with the identifier is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

func (r *Registry) emit(ctx context.Context, typ events.Type, payload map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(ctx, events.Event{Type: typ, Payload: payload, Source: "registry"})
}
