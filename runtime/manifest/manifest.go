// Package manifest manages the per-agent capability and metric documents
// used for discovery and cost-aware routing. The service exclusively owns
// Manifest records, persisting them to the configured store and mirroring
// them in an internal cache that is invalidated on every write.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/storage"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// Well-known metric names consumed by the cost-aware router.
const (
	MetricCostRate    = "cost_rate"
	MetricLatencyMS   = "latency_ms"
	MetricSuccessRate = "success_rate"
)

const keyPrefix = "manifest:"

type (
	// Manifest is the authoritative capability document for one agent.
	Manifest struct {
		// AgentID identifies the owning agent.
		AgentID string `json:"agent_id"`
		// DID mirrors the agent's decentralized identifier, if any.
		DID string `json:"did,omitempty"`
		// Version is the semantic manifest version (defaults to "1.0.0").
		Version string `json:"version"`
		// Capabilities lists the advertised capability tags.
		Capabilities []string `json:"capabilities"`
		// Schemas optionally describes input/output documents per capability.
		Schemas map[string]CapabilitySchema `json:"schemas,omitempty"`
		// Metrics carries observed metrics; cost_rate and latency_ms are
		// non-negative, success_rate lies in [0, 1].
		Metrics map[string]float64 `json:"metrics,omitempty"`
		// Endpoints maps transport names to addresses.
		Endpoints map[string]string `json:"endpoints,omitempty"`
		// Metadata carries free-form annotations.
		Metadata map[string]any `json:"metadata,omitempty"`
		// CreatedAt is the creation timestamp.
		CreatedAt time.Time `json:"created_at"`
		// UpdatedAt strictly advances on every update and never precedes
		// CreatedAt.
		UpdatedAt time.Time `json:"updated_at"`
	}

	// CapabilitySchema pairs the JSON schemas for a capability's input and
	// output documents.
	CapabilitySchema struct {
		Input  json.RawMessage `json:"input,omitempty"`
		Output json.RawMessage `json:"output,omitempty"`
	}

	// Data is the caller-supplied manifest content for CreateOrReplace.
	// Zero-valued fields fall back to defaults derived from the agent.
	Data struct {
		Version      string
		Capabilities []string
		Schemas      map[string]CapabilitySchema
		Metrics      map[string]float64
		Endpoints    map[string]string
		Metadata     map[string]any
	}

	// Patch declares incremental manifest updates. Nil fields are left
	// untouched; Metrics merges by key.
	Patch struct {
		Version      *string
		Capabilities *[]string
		Schemas      map[string]CapabilitySchema
		Metrics      map[string]float64
		Endpoints    map[string]string
		Metadata     map[string]any
	}

	// Service owns manifest records. It is safe for concurrent use.
	Service struct {
		mu     sync.RWMutex
		store  storage.Store
		cache  map[string]*Manifest
		bus    *events.Bus
		logger telemetry.Logger
	}

	// Option configures a Service.
	Option func(*Service)
)

// WithEventBus sets the bus used for manifest lifecycle events.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithLogger sets the service logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a manifest service backed by the given store. A nil
// store defaults to an in-memory one.
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		cache: make(map[string]*Manifest),
	}
	if s.store == nil {
		s.store = storage.NewMemory()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	return s
}

// CreateOrReplace installs the manifest for the agent, replacing any previous
// document. Capability schemas are compiled up front so malformed schemas
// surface as InvalidParams instead of failing later lookups.
func (s *Service) CreateOrReplace(ctx context.Context, a *agent.Agent, data Data) (*Manifest, error) {
	if a == nil || a.ID == "" {
		return nil, rlerrors.New(rlerrors.KindInvalidParams, "agent is required")
	}
	if err := compileSchemas(data.Schemas); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &Manifest{
		AgentID:      a.ID,
		DID:          a.DID,
		Version:      data.Version,
		Capabilities: data.Capabilities,
		Schemas:      data.Schemas,
		Metrics:      data.Metrics,
		Endpoints:    data.Endpoints,
		Metadata:     data.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	if len(m.Capabilities) == 0 {
		m.Capabilities = append([]string(nil), a.Capabilities...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "created manifest", "agent_id", a.ID, "version", m.Version)
	s.emit(ctx, map[string]any{"agent_id": a.ID, "version": m.Version})
	return m.clone(), nil
}

// Get returns the manifest for the agent, consulting the cache first.
func (s *Service) Get(ctx context.Context, agentID string) (*Manifest, error) {
	s.mu.RLock()
	if m, ok := s.cache[agentID]; ok {
		defer s.mu.RUnlock()
		return m.clone(), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return m.clone(), nil
}

// Update applies the patch to the manifest. UpdatedAt strictly advances on
// every successful update.
func (s *Service) Update(ctx context.Context, agentID string, patch Patch) (*Manifest, error) {
	if err := compileSchemas(patch.Schemas); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if patch.Version != nil {
		m.Version = *patch.Version
	}
	if patch.Capabilities != nil {
		m.Capabilities = append([]string(nil), (*patch.Capabilities)...)
	}
	for capTag, schema := range patch.Schemas {
		if m.Schemas == nil {
			m.Schemas = make(map[string]CapabilitySchema)
		}
		m.Schemas[capTag] = schema
	}
	for k, v := range patch.Metrics {
		if m.Metrics == nil {
			m.Metrics = make(map[string]float64)
		}
		m.Metrics[k] = v
	}
	for k, v := range patch.Endpoints {
		if m.Endpoints == nil {
			m.Endpoints = make(map[string]string)
		}
		m.Endpoints[k] = v
	}
	for k, v := range patch.Metadata {
		if m.Metadata == nil {
			m.Metadata = make(map[string]any)
		}
		m.Metadata[k] = v
	}

	now := time.Now().UTC()
	if !now.After(m.UpdatedAt) {
		now = m.UpdatedAt.Add(time.Nanosecond)
	}
	m.UpdatedAt = now

	if err := s.persist(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "updated manifest", "agent_id", agentID)
	s.emit(ctx, map[string]any{"agent_id": agentID, "version": m.Version})
	return m.clone(), nil
}

// Delete removes the manifest, reporting whether it existed.
func (s *Service) Delete(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted, err := s.store.Delete(ctx, keyPrefix+agentID)
	if err != nil {
		return false, rlerrors.Wrap(rlerrors.KindTransient, err, "deleting manifest %q", agentID)
	}
	delete(s.cache, agentID)
	if deleted {
		s.logger.Info(ctx, "deleted manifest", "agent_id", agentID)
	}
	return deleted, nil
}

// FindByCapability returns every manifest whose capability set contains the
// tag, in unspecified order.
func (s *Service) FindByCapability(ctx context.Context, tag string) ([]*Manifest, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, m := range all {
		for _, c := range m.Capabilities {
			if c == tag {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

// MetricFilter carries the optional conjunctive metric constraints for
// FindByMetrics. Nil fields are unconstrained.
type MetricFilter struct {
	MaxCostRate    *float64
	MaxLatencyMS   *float64
	MinSuccessRate *float64
}

// FindByMetrics returns every manifest satisfying all given constraints.
// Absent metrics behave as +Inf for upper bounds and 0 for lower bounds, so
// a manifest without metrics fails every constraint.
func (s *Service) FindByMetrics(ctx context.Context, filter MetricFilter) ([]*Manifest, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, m := range all {
		if filter.MaxCostRate != nil && m.Metric(MetricCostRate, math.Inf(1)) > *filter.MaxCostRate {
			continue
		}
		if filter.MaxLatencyMS != nil && m.Metric(MetricLatencyMS, math.Inf(1)) > *filter.MaxLatencyMS {
			continue
		}
		if filter.MinSuccessRate != nil && m.Metric(MetricSuccessRate, 0) < *filter.MinSuccessRate {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ListAll returns every manifest known to the backing store.
func (s *Service) ListAll(ctx context.Context) ([]*Manifest, error) {
	keys, err := s.store.ListKeys(ctx, keyPrefix)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindTransient, err, "listing manifests")
	}
	out := make([]*Manifest, 0, len(keys))
	for _, key := range keys {
		agentID := key[len(keyPrefix):]
		s.mu.RLock()
		cached, ok := s.cache[agentID]
		s.mu.RUnlock()
		if ok {
			out = append(out, cached.clone())
			continue
		}
		s.mu.Lock()
		m, err := s.load(ctx, agentID)
		s.mu.Unlock()
		if err != nil {
			if rlerrors.IsKind(err, rlerrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, m.clone())
	}
	return out, nil
}

// Metric returns the named metric or the fallback when absent.
func (m *Manifest) Metric(name string, fallback float64) float64 {
	if v, ok := m.Metrics[name]; ok {
		return v
	}
	return fallback
}

// load returns the cached manifest or reads it from the store, populating
// the cache. Callers hold s.mu.
func (s *Service) load(ctx context.Context, agentID string) (*Manifest, error) {
	if m, ok := s.cache[agentID]; ok {
		return m, nil
	}
	raw, ok, err := s.store.Get(ctx, keyPrefix+agentID)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindTransient, err, "loading manifest %q", agentID)
	}
	if !ok {
		return nil, rlerrors.New(rlerrors.KindNotFound, "manifest %q not found", agentID)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindFatal, err, "decoding manifest %q", agentID)
	}
	s.cache[agentID] = &m
	return &m, nil
}

// persist writes the manifest to the store and refreshes the cache entry.
// Callers hold s.mu.
func (s *Service) persist(ctx context.Context, m *Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return rlerrors.Wrap(rlerrors.KindFatal, err, "encoding manifest %q", m.AgentID)
	}
	if err := s.store.Set(ctx, keyPrefix+m.AgentID, raw); err != nil {
		return rlerrors.Wrap(rlerrors.KindTransient, err, "storing manifest %q", m.AgentID)
	}
	s.cache[m.AgentID] = m.clone()
	return nil
}

func (s *Service) emit(ctx context.Context, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(ctx, events.Event{Type: events.ManifestUpdated, Payload: payload, Source: "manifest"})
}

func (m *Manifest) clone() *Manifest {
	dup := *m
	dup.Capabilities = append([]string(nil), m.Capabilities...)
	if m.Schemas != nil {
		dup.Schemas = make(map[string]CapabilitySchema, len(m.Schemas))
		for k, v := range m.Schemas {
			dup.Schemas[k] = v
		}
	}
	if m.Metrics != nil {
		dup.Metrics = make(map[string]float64, len(m.Metrics))
		for k, v := range m.Metrics {
			dup.Metrics[k] = v
		}
	}
	if m.Endpoints != nil {
		dup.Endpoints = make(map[string]string, len(m.Endpoints))
		for k, v := range m.Endpoints {
			dup.Endpoints[k] = v
		}
	}
	if m.Metadata != nil {
		dup.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

func bytesReader(raw []byte) io.Reader { return bytes.NewReader(raw) }

// compileSchemas validates each capability schema document with the JSON
// Schema compiler so malformed schemas are rejected at write time.
func compileSchemas(schemas map[string]CapabilitySchema) error {
	for capTag, pair := range schemas {
		for _, raw := range [][]byte{pair.Input, pair.Output} {
			if len(raw) == 0 {
				continue
			}
			doc, err := jsonschema.UnmarshalJSON(bytesReader(raw))
			if err != nil {
				return rlerrors.Wrap(rlerrors.KindInvalidParams, err, "schema for capability %q", capTag)
			}
			c := jsonschema.NewCompiler()
			if err := c.AddResource("manifest://"+capTag+".json", doc); err != nil {
				return rlerrors.Wrap(rlerrors.KindInvalidParams, err, "schema for capability %q", capTag)
			}
			if _, err := c.Compile("manifest://" + capTag + ".json"); err != nil {
				return rlerrors.Wrap(rlerrors.KindInvalidParams, err, "schema for capability %q", capTag)
			}
		}
	}
	return nil
}
