package rl

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Default differential-privacy parameters. They are suggestive defaults,
// overridable per call.
const (
	DefaultEpsilon     = 1.0
	DefaultSensitivity = 1.0
)

type (
	// Update is one buffered Q-table submission from a peer instance.
	Update struct {
		// UpdateID is the content-addressed identifier for the submission.
		UpdateID string
		// AgentID identifies the agent the table belongs to.
		AgentID string
		// InstanceID identifies the submitting peer instance.
		InstanceID string
		// QTable is the deep-copied matrix.
		QTable [][]float64
		// Metadata carries optional submission annotations.
		Metadata map[string]any
		// Timestamp records the submission time.
		Timestamp time.Time
	}

	// Aggregator buffers per-agent Q-table submissions and averages them.
	// It is safe for concurrent use; the buffer is exclusive during
	// aggregation.
	Aggregator struct {
		mu      sync.Mutex
		buffer  map[string][]*Update
		counter uint64
		rng     *rand.Rand
	}

	// BufferStats summarizes the pending submissions for one agent.
	BufferStats struct {
		AgentID        string   `json:"agent_id"`
		PendingUpdates int      `json:"pending_updates"`
		Instances      []string `json:"instances"`
	}

	// AggregatorOption configures an Aggregator.
	AggregatorOption func(*Aggregator)
)

// WithAggregatorRand sets the random source used for differential-privacy
// noise. Tests inject a seeded source.
func WithAggregatorRand(rng *rand.Rand) AggregatorOption {
	return func(a *Aggregator) { a.rng = rng }
}

// NewAggregator creates an empty federated aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{buffer: make(map[string][]*Update)}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(rand.Int63())) //nolint:gosec // DP noise scale, not key material
	}
	return a
}

// Submit buffers a Q-table update. The matrix is deep-copied so later local
// learning cannot mutate the buffered submission. Returns the
// content-addressed update identifier.
func (a *Aggregator) Submit(agentID string, qTable [][]float64, instanceID string, metadata map[string]any) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counter++
	update := &Update{
		AgentID:    agentID,
		InstanceID: instanceID,
		QTable:     copyMatrix(qTable),
		Metadata:   metadata,
		Timestamp:  time.Now().UTC(),
	}
	update.UpdateID = updateID(agentID, instanceID, update.QTable, a.counter)
	a.buffer[agentID] = append(a.buffer[agentID], update)
	return update.UpdateID
}

// Aggregate averages the buffered submissions for the agent element-wise and
// clears the buffer atomically with a successful aggregation. It returns nil
// when fewer than two submissions are buffered. Heterogeneous shapes are
// reconciled by growing every participant to the element-wise maximum of
// each dimension with zero padding before averaging.
func (a *Aggregator) Aggregate(agentID string) [][]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	updates := a.buffer[agentID]
	if len(updates) < 2 {
		return nil
	}

	rows, cols := 0, 0
	for _, u := range updates {
		r, c := matrixShape(u.QTable)
		if r > rows {
			rows = r
		}
		if c > cols {
			cols = c
		}
	}

	sum := zeroMatrix(rows, cols)
	for _, u := range updates {
		for i, row := range u.QTable {
			for j, v := range row {
				sum[i][j] += v
			}
		}
	}
	n := float64(len(updates))
	for i := range sum {
		for j := range sum[i] {
			sum[i][j] /= n
		}
	}

	delete(a.buffer, agentID)
	return sum
}

// Privatize returns a copy of the matrix with Laplace noise of scale
// sensitivity/epsilon added to every cell. Non-positive epsilon falls back
// to the default.
func (a *Aggregator) Privatize(qTable [][]float64, epsilon, sensitivity float64) [][]float64 {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	scale := sensitivity / epsilon

	a.mu.Lock()
	defer a.mu.Unlock()
	out := copyMatrix(qTable)
	for i := range out {
		for j := range out[i] {
			out[i][j] += laplace(a.rng, scale)
		}
	}
	return out
}

// Stats reports the pending submissions for the agent.
func (a *Aggregator) Stats(agentID string) BufferStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := BufferStats{AgentID: agentID}
	seen := make(map[string]struct{})
	for _, u := range a.buffer[agentID] {
		stats.PendingUpdates++
		if _, ok := seen[u.InstanceID]; !ok {
			seen[u.InstanceID] = struct{}{}
			stats.Instances = append(stats.Instances, u.InstanceID)
		}
	}
	return stats
}

// Clear drops buffered submissions for the agent, or for every agent when
// agentID is empty.
func (a *Aggregator) Clear(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if agentID == "" {
		a.buffer = make(map[string][]*Update)
		return
	}
	delete(a.buffer, agentID)
}

// laplace samples Laplace(0, scale) via the inverse CDF.
func laplace(rng *rand.Rand, scale float64) float64 {
	u := rng.Float64() - 0.5
	if u == 0 {
		return 0
	}
	sign := 1.0
	if u < 0 {
		sign = -1.0
	}
	return -scale * sign * math.Log(1-2*math.Abs(u))
}

// updateID derives a content-addressed identifier from the submission's
// agent, instance, matrix content, and a per-aggregator sequence number.
func updateID(agentID, instanceID string, qTable [][]float64, counter uint64) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(instanceID))
	h.Write([]byte{0})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	h.Write(buf[:])
	for _, row := range qTable {
		for _, v := range row {
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func matrixShape(m [][]float64) (int, int) {
	rows := len(m)
	cols := 0
	for _, row := range m {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return rows, cols
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

func zeroMatrix(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}
