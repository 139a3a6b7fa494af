package rl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/manifest"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

type (
	// Engine coordinates Q-learning, reward calculation, and federated
	// aggregation. Every update emits an rl.reward event and, when
	// federation is enabled, submits the current Q-table snapshot to the
	// aggregator tagged with the local instance identifier.
	Engine struct {
		learning   *QLearning
		rewards    *RewardCalculator
		aggregator *Aggregator
		bus        *events.Bus
		logger     telemetry.Logger
		instanceID string

		// minAggregationInterval spaces aggregations per agent.
		minAggregationInterval time.Duration
		aggMu                  sync.Mutex
		lastAggregation        map[string]time.Time
	}

	// EngineOption configures an Engine.
	EngineOption func(*Engine)
)

// WithFederation enables federated learning with the given aggregator and
// minimum per-agent interval between aggregations.
func WithFederation(aggregator *Aggregator, minInterval time.Duration) EngineOption {
	return func(e *Engine) {
		e.aggregator = aggregator
		e.minAggregationInterval = minInterval
	}
}

// WithEngineEventBus sets the bus for rl.reward and frl.aggregation events.
func WithEngineEventBus(bus *events.Bus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l telemetry.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithInstanceID overrides the generated local instance identifier.
func WithInstanceID(id string) EngineOption {
	return func(e *Engine) { e.instanceID = id }
}

// WithQLearning replaces the default Q-learning instance.
func WithQLearning(q *QLearning) EngineOption {
	return func(e *Engine) { e.learning = q }
}

// NewEngine creates an RL engine over the manifest service.
func NewEngine(manifests *manifest.Service, opts ...EngineOption) *Engine {
	e := &Engine{
		rewards:         NewRewardCalculator(manifests),
		lastAggregation: make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.learning == nil {
		e.learning = NewQLearning()
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.instanceID == "" {
		e.instanceID = "rla2a-" + uuid.NewString()
	}
	return e
}

// Learning exposes the underlying Q-learning instance.
func (e *Engine) Learning() *QLearning { return e.learning }

// InstanceID returns the local instance identifier used for federation.
func (e *Engine) InstanceID() string { return e.instanceID }

// UpdateQ applies one shaped Q-learning step, emits rl.reward, and submits
// the refreshed table for federation when enabled. It returns the new
// Q-value.
func (e *Engine) UpdateQ(ctx context.Context, agentID, state, action string, reward float64, nextState string, cost, latency *float64) float64 {
	qValue := e.learning.Update(agentID, state, action, reward, nextState, cost, latency)

	if e.bus != nil {
		e.bus.Emit(ctx, events.Event{
			Type: events.RLReward,
			Payload: map[string]any{
				"agent_id": agentID,
				"reward":   reward,
				"q_value":  qValue,
				"state":    state,
				"action":   action,
			},
			Source: "rl",
		})
	}

	if e.aggregator != nil {
		if snapshot := e.learning.Snapshot(agentID); snapshot != nil {
			e.aggregator.Submit(agentID, snapshot, e.instanceID, map[string]any{
				"state":  state,
				"action": action,
				"reward": reward,
			})
		}
	}
	return qValue
}

// CalculateAndUpdate derives the reward from the observed outcome and
// applies the Q-learning step.
func (e *Engine) CalculateAndUpdate(ctx context.Context, agentID, state, action, nextState string, outcome Outcome) float64 {
	reward := e.rewards.Calculate(ctx, agentID, outcome)
	return e.UpdateQ(ctx, agentID, state, action, reward, nextState, outcome.Cost, outcome.ResponseTimeMS)
}

// SelectAction picks an action for the agent epsilon-greedily.
func (e *Engine) SelectAction(agentID, state string, actions []string) string {
	return e.learning.SelectAction(agentID, state, actions)
}

// BestAction returns the greedy action for the agent.
func (e *Engine) BestAction(agentID, state string, actions []string) string {
	return e.learning.BestAction(agentID, state, actions)
}

// ApplyFederatedUpdate aggregates buffered peer submissions for the agent
// and adopts the averaged table. It reports whether an update was applied;
// aggregations closer together than the configured minimum interval are
// skipped.
func (e *Engine) ApplyFederatedUpdate(ctx context.Context, agentID string) bool {
	if e.aggregator == nil {
		return false
	}

	if e.minAggregationInterval > 0 {
		e.aggMu.Lock()
		last, ok := e.lastAggregation[agentID]
		if ok && time.Since(last) < e.minAggregationInterval {
			e.aggMu.Unlock()
			return false
		}
		e.lastAggregation[agentID] = time.Now()
		e.aggMu.Unlock()
	}

	aggregated := e.aggregator.Aggregate(agentID)
	if aggregated == nil {
		return false
	}
	e.learning.Adopt(agentID, aggregated)

	e.logger.Info(ctx, "applied federated update", "agent_id", agentID)
	if e.bus != nil {
		rows, cols := matrixShape(aggregated)
		e.bus.Emit(ctx, events.Event{
			Type: events.FRLAggregation,
			Payload: map[string]any{
				"agent_id": agentID,
				"shape":    []int{rows, cols},
			},
			Source: "rl",
		})
	}
	return true
}

// Stats reports learning and federation statistics for the agent.
func (e *Engine) Stats(agentID string) map[string]any {
	out := map[string]any{
		"agent_id":   agentID,
		"q_learning": e.learning.Stats(agentID),
	}
	if e.aggregator != nil {
		out["frl"] = e.aggregator.Stats(agentID)
	}
	return out
}
