package rl

import (
	"math"
	"math/rand"
	"sync"
)

// Default Q-learning parameters.
const (
	DefaultLearningRate    = 0.1
	DefaultDiscountFactor  = 0.9
	DefaultExplorationRate = 0.1
	DefaultRewardWeight    = 0.5
	DefaultCostWeight      = 0.3
	DefaultLatencyWeight   = 0.2
)

// latencyScale normalizes latency penalties: latencies at or above this many
// milliseconds saturate the penalty.
const latencyScale = 10000.0

type (
	// Params are the tunable Q-learning coefficients.
	Params struct {
		// LearningRate is alpha.
		LearningRate float64
		// DiscountFactor is gamma.
		DiscountFactor float64
		// ExplorationRate is epsilon for epsilon-greedy selection.
		ExplorationRate float64
		// RewardWeight scales the raw reward in the shaped reward.
		RewardWeight float64
		// CostWeight scales the cost penalty in the shaped reward.
		CostWeight float64
		// LatencyWeight scales the latency penalty in the shaped reward.
		LatencyWeight float64
	}

	// QLearning holds the per-agent Q-tables and applies cost- and
	// latency-shaped updates. Each agent's table is exclusive-write: a
	// single mutex serializes all table access.
	QLearning struct {
		mu     sync.Mutex
		tables map[string]*Table
		params Params
		rng    *rand.Rand
	}

	// QOption configures a QLearning instance.
	QOption func(*QLearning)

	// Statistics summarizes one agent's learning state.
	Statistics struct {
		NumStates       int     `json:"num_states"`
		NumActions      int     `json:"num_actions"`
		MaxQValue       float64 `json:"max_q_value"`
		MinQValue       float64 `json:"min_q_value"`
		MeanQValue      float64 `json:"mean_q_value"`
		LearningRate    float64 `json:"learning_rate"`
		DiscountFactor  float64 `json:"discount_factor"`
		ExplorationRate float64 `json:"exploration_rate"`
	}
)

// DefaultParams returns the documented default coefficients.
func DefaultParams() Params {
	return Params{
		LearningRate:    DefaultLearningRate,
		DiscountFactor:  DefaultDiscountFactor,
		ExplorationRate: DefaultExplorationRate,
		RewardWeight:    DefaultRewardWeight,
		CostWeight:      DefaultCostWeight,
		LatencyWeight:   DefaultLatencyWeight,
	}
}

// WithParams overrides the default coefficients.
func WithParams(p Params) QOption {
	return func(q *QLearning) { q.params = p }
}

// WithRand sets the random source used for epsilon-greedy exploration.
// Tests inject a seeded source for determinism.
func WithRand(rng *rand.Rand) QOption {
	return func(q *QLearning) { q.rng = rng }
}

// NewQLearning creates a Q-learning instance with the default parameters.
func NewQLearning(opts ...QOption) *QLearning {
	q := &QLearning{
		tables: make(map[string]*Table),
		params: DefaultParams(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewSource(rand.Int63())) //nolint:gosec // exploration does not need crypto rand
	}
	return q
}

// Params returns the active coefficients.
func (q *QLearning) Params() Params { return q.params }

// Update applies one shaped Q-learning step for the agent and returns the
// new Q(state, action) value:
//
//	shaped = w_r·reward − w_c·min(cost, 1) − w_l·min(latency/10000, 1)
//	Q(s,a) += alpha · (shaped + gamma·max Q(s',·) − Q(s,a))
//
// Nil cost and latency contribute no penalty.
func (q *QLearning) Update(agentID, state, action string, reward float64, nextState string, cost, latency *float64) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	table := q.table(agentID)
	shaped := q.params.RewardWeight * reward
	if cost != nil {
		shaped -= q.params.CostWeight * math.Min(*cost, 1)
	}
	if latency != nil {
		shaped -= q.params.LatencyWeight * math.Min(*latency/latencyScale, 1)
	}

	current := table.Q(state, action)
	// Intern the next state before reading its row maximum.
	table.StateIndex(nextState)
	maxNext := table.MaxQ(nextState)

	next := current + q.params.LearningRate*(shaped+q.params.DiscountFactor*maxNext-current)
	table.SetQ(state, action, next)
	return next
}

// Value returns the current Q(state, action) for the agent, zero when the
// agent has no table.
func (q *QLearning) Value(agentID, state, action string) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	table, ok := q.tables[agentID]
	if !ok {
		return 0
	}
	return table.Q(state, action)
}

// SelectAction picks an action epsilon-greedily: with probability epsilon a
// uniform choice among the supplied actions, otherwise the greedy choice.
// An empty action list yields "".
func (q *QLearning) SelectAction(agentID, state string, actions []string) string {
	if len(actions) == 0 {
		return ""
	}
	q.mu.Lock()
	explore := q.rng.Float64() < q.params.ExplorationRate
	var pick int
	if explore {
		pick = q.rng.Intn(len(actions))
	}
	q.mu.Unlock()
	if explore {
		return actions[pick]
	}
	return q.BestAction(agentID, state, actions)
}

// BestAction returns the greedy choice: the supplied action with the
// largest current Q-value, ties broken by argument order. An agent without
// a table gets the first action.
func (q *QLearning) BestAction(agentID, state string, actions []string) string {
	if len(actions) == 0 {
		return ""
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	table, ok := q.tables[agentID]
	if !ok {
		return actions[0]
	}
	best := actions[0]
	bestQ := table.Q(state, actions[0])
	for _, action := range actions[1:] {
		if v := table.Q(state, action); v > bestQ {
			best, bestQ = action, v
		}
	}
	return best
}

// Snapshot returns a deep copy of the agent's Q-matrix, or nil when the
// agent has no table.
func (q *QLearning) Snapshot(agentID string) [][]float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	table, ok := q.tables[agentID]
	if !ok {
		return nil
	}
	return table.Matrix()
}

// Adopt overwrites the agent's Q-matrix with the given values, creating the
// table if needed.
func (q *QLearning) Adopt(agentID string, matrix [][]float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.table(agentID).Adopt(matrix)
}

// Stats summarizes the agent's table. Unknown agents yield zero statistics.
func (q *QLearning) Stats(agentID string) Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := Statistics{
		LearningRate:    q.params.LearningRate,
		DiscountFactor:  q.params.DiscountFactor,
		ExplorationRate: q.params.ExplorationRate,
	}
	table, ok := q.tables[agentID]
	if !ok {
		return stats
	}
	rows, cols := table.Shape()
	stats.NumStates = rows
	stats.NumActions = cols
	if rows == 0 || cols == 0 {
		return stats
	}
	matrix := table.Matrix()
	minV, maxV, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, row := range matrix {
		for _, v := range row {
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
			sum += v
		}
	}
	stats.MinQValue = minV
	stats.MaxQValue = maxV
	stats.MeanQValue = sum / float64(rows*cols)
	return stats
}

// table returns the agent's table, creating it on first use. Callers hold
// q.mu.
func (q *QLearning) table(agentID string) *Table {
	table, ok := q.tables[agentID]
	if !ok {
		table = NewTable()
		q.tables[agentID] = table
	}
	return table
}
