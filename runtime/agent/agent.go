// Package agent defines the agent data model: a named, addressable
// participant with declared capabilities, performance metrics, and an
// optional decentralized identifier.
package agent

import (
	"math"
	"time"
)

// Status enumerates the agent lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Default metric names tracked for every agent.
const (
	MetricSuccessRate        = "success_rate"
	MetricResponseTime       = "response_time"
	MetricLearningRate       = "learning_rate"
	MetricCollaborationScore = "collaboration_score"
	MetricCostEfficiency     = "cost_efficiency"
)

// MemoryEntry is a single entry in an agent's ordered memory sequence.
type MemoryEntry map[string]any

// Agent is the registry record for a single participant. The registry owns
// Agent values exclusively; other components read snapshots.
type Agent struct {
	// ID is the stable opaque identifier, unique within the registry.
	ID string
	// DID is the optional decentralized identifier, unique when set.
	DID string
	// Name is the human-readable agent name.
	Name string
	// Role tags the agent's function (defaults to "general").
	Role string
	// Status is the current lifecycle state.
	Status Status
	// Capabilities lists the free-form capability tags the agent advertises.
	Capabilities []string
	// PublicKey holds optional public-key material for signature checks.
	PublicKey string
	// State is the free-form agent state mapping.
	State map[string]any
	// Memory is the ordered sequence of memory entries.
	Memory []MemoryEntry
	// PerformanceMetrics tracks numeric metrics; values are always finite.
	PerformanceMetrics map[string]float64
	// SecurityLevel classifies the agent (defaults to "standard").
	SecurityLevel string
	// AIProvider names the preferred AI provider (defaults to "openai").
	AIProvider string
	// CreatedAt is the registration timestamp.
	CreatedAt time.Time
	// LastActive advances on every mutation.
	LastActive time.Time
	// ManifestVersion tracks the agent's manifest version, if any.
	ManifestVersion string
}

// New creates an agent with the given id and name and the documented
// defaults: general role, pending status, the baseline capability set, and
// zeroed performance metrics.
func New(id, name string) *Agent {
	now := time.Now().UTC()
	return &Agent{
		ID:           id,
		Name:         name,
		Role:         "general",
		Status:       StatusPending,
		Capabilities: []string{"communication", "learning", "reasoning"},
		State:        make(map[string]any),
		PerformanceMetrics: map[string]float64{
			MetricSuccessRate:        0,
			MetricResponseTime:       0,
			MetricLearningRate:       0,
			MetricCollaborationScore: 0,
			MetricCostEfficiency:     0,
		},
		SecurityLevel: "standard",
		AIProvider:    "openai",
		CreatedAt:     now,
		LastActive:    now,
	}
}

// HasCapability reports whether the agent advertises the given tag.
func (a *Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Touch advances LastActive to now. LastActive never moves backwards.
func (a *Agent) Touch() {
	if now := time.Now().UTC(); now.After(a.LastActive) {
		a.LastActive = now
	}
}

// UpdateMetrics merges the given metric values into the agent's performance
// metrics. Non-finite values are ignored to preserve the finiteness
// invariant.
func (a *Agent) UpdateMetrics(metrics map[string]float64) {
	if a.PerformanceMetrics == nil {
		a.PerformanceMetrics = make(map[string]float64, len(metrics))
	}
	for k, v := range metrics {
		if isFinite(v) {
			a.PerformanceMetrics[k] = v
		}
	}
}

// Clone returns a deep copy of the agent suitable for handing to readers
// outside the registry's lock.
func (a *Agent) Clone() *Agent {
	dup := *a
	dup.Capabilities = append([]string(nil), a.Capabilities...)
	dup.State = cloneMap(a.State)
	dup.Memory = make([]MemoryEntry, len(a.Memory))
	for i, m := range a.Memory {
		dup.Memory[i] = MemoryEntry(cloneMap(m))
	}
	dup.PerformanceMetrics = make(map[string]float64, len(a.PerformanceMetrics))
	for k, v := range a.PerformanceMetrics {
		dup.PerformanceMetrics[k] = v
	}
	return &dup
}

// Snapshot flattens the agent into the persisted document shape.
func (a *Agent) Snapshot() map[string]any {
	return map[string]any{
		"id":                  a.ID,
		"did":                 a.DID,
		"name":                a.Name,
		"role":                a.Role,
		"status":              string(a.Status),
		"capabilities":        append([]string(nil), a.Capabilities...),
		"public_key":          a.PublicKey,
		"state":               cloneMap(a.State),
		"performance_metrics": a.PerformanceMetrics,
		"security_level":      a.SecurityLevel,
		"ai_provider":         a.AIProvider,
		"created_at":          a.CreatedAt.Format(time.RFC3339Nano),
		"last_active":         a.LastActive.Format(time.RFC3339Nano),
		"manifest_version":    a.ManifestVersion,
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
