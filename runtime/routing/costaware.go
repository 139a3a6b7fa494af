// Package routing selects delivery targets for messages: the cost-aware
// router picks an agent for a capability from manifest metrics, and the
// message router resolves addressing and hands messages to the delivery
// channel.
package routing

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/KunjShah01/RL-A2A/runtime/manifest"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// Strategy enumerates the agent selection strategies.
type Strategy string

const (
	StrategyLowestCost     Strategy = "lowest_cost"
	StrategyLowestLatency  Strategy = "lowest_latency"
	StrategyHighestSuccess Strategy = "highest_success"
	StrategyBestValue      Strategy = "best_value"
)

// Constraints carries the hard filters applied before strategy selection.
// Nil fields are unconstrained.
type Constraints struct {
	MaxCost    *float64
	MaxLatency *float64
}

// CostAwareRouter selects agents for capabilities using manifest metrics.
// It is safe for concurrent use.
type CostAwareRouter struct {
	mu        sync.RWMutex
	manifests *manifest.Service
	strategy  Strategy
	logger    telemetry.Logger
}

// NewCostAwareRouter creates a router defaulting to the best-value strategy.
func NewCostAwareRouter(manifests *manifest.Service, logger telemetry.Logger) *CostAwareRouter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &CostAwareRouter{
		manifests: manifests,
		strategy:  StrategyBestValue,
		logger:    logger,
	}
}

// SetStrategy replaces the default strategy used when Select is called
// without an explicit one.
func (r *CostAwareRouter) SetStrategy(s Strategy) {
	r.mu.Lock()
	r.strategy = s
	r.mu.Unlock()
}

// Strategy returns the current default strategy.
func (r *CostAwareRouter) Strategy() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

// Select picks the best agent for the capability under the given strategy
// (the default when empty) and hard constraints. It returns "" when no
// candidate qualifies; agents without manifests are never candidates.
func (r *CostAwareRouter) Select(ctx context.Context, capability string, strategy Strategy, constraints Constraints) (string, error) {
	if strategy == "" {
		strategy = r.Strategy()
	}
	candidates, err := r.candidates(ctx, capability, constraints)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		r.logger.Warn(ctx, "no candidates for capability", "capability", capability, "strategy", string(strategy))
		return "", nil
	}
	sortByStrategy(candidates, strategy)
	selected := candidates[0].AgentID
	r.logger.Info(ctx, "selected agent", "capability", capability, "agent_id", selected, "strategy", string(strategy))
	return selected, nil
}

// Rank orders all candidates for the capability by the current default
// strategy and returns at most limit manifests.
func (r *CostAwareRouter) Rank(ctx context.Context, capability string, limit int) ([]*manifest.Manifest, error) {
	candidates, err := r.candidates(ctx, capability, Constraints{})
	if err != nil {
		return nil, err
	}
	sortByStrategy(candidates, r.Strategy())
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (r *CostAwareRouter) candidates(ctx context.Context, capability string, constraints Constraints) ([]*manifest.Manifest, error) {
	manifests, err := r.manifests.FindByCapability(ctx, capability)
	if err != nil {
		return nil, err
	}
	out := manifests[:0]
	for _, m := range manifests {
		if constraints.MaxCost != nil && m.Metric(manifest.MetricCostRate, math.Inf(1)) > *constraints.MaxCost {
			continue
		}
		if constraints.MaxLatency != nil && m.Metric(manifest.MetricLatencyMS, math.Inf(1)) > *constraints.MaxLatency {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// BestValueScore computes the balanced score used by the best_value
// strategy: 0.5·success − 0.25·min(cost,1) − 0.25·min(latency/10000, 1).
func BestValueScore(m *manifest.Manifest) float64 {
	cost := m.Metric(manifest.MetricCostRate, 1.0)
	latency := m.Metric(manifest.MetricLatencyMS, 1000.0)
	success := m.Metric(manifest.MetricSuccessRate, 0.5)
	return success*0.5 - 0.25*math.Min(cost, 1) - 0.25*math.Min(latency/10000.0, 1)
}

// sortByStrategy orders candidates best-first with the deterministic
// tie-breaks documented per strategy; the final tie-break is always the
// lexicographic agent id.
func sortByStrategy(candidates []*manifest.Manifest, strategy Strategy) {
	cost := func(m *manifest.Manifest) float64 { return m.Metric(manifest.MetricCostRate, math.Inf(1)) }
	latency := func(m *manifest.Manifest) float64 { return m.Metric(manifest.MetricLatencyMS, math.Inf(1)) }
	success := func(m *manifest.Manifest) float64 { return m.Metric(manifest.MetricSuccessRate, 0) }

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch strategy {
		case StrategyLowestCost:
			if c := compare(cost(a), cost(b)); c != 0 {
				return c < 0
			}
			if c := compare(latency(a), latency(b)); c != 0 {
				return c < 0
			}
			if c := compare(success(b), success(a)); c != 0 {
				return c < 0
			}
		case StrategyLowestLatency:
			if c := compare(latency(a), latency(b)); c != 0 {
				return c < 0
			}
			if c := compare(cost(a), cost(b)); c != 0 {
				return c < 0
			}
			if c := compare(success(b), success(a)); c != 0 {
				return c < 0
			}
		case StrategyHighestSuccess:
			if c := compare(success(b), success(a)); c != 0 {
				return c < 0
			}
			if c := compare(cost(a), cost(b)); c != 0 {
				return c < 0
			}
			if c := compare(latency(a), latency(b)); c != 0 {
				return c < 0
			}
		default: // StrategyBestValue
			if c := compare(BestValueScore(b), BestValueScore(a)); c != 0 {
				return c < 0
			}
		}
		return a.AgentID < b.AgentID
	})
}

func compare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
