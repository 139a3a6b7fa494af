package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/manifest"
)

func manifestsWith(t *testing.T, metrics map[string]map[string]float64) *manifest.Service {
	t.Helper()
	svc := manifest.NewService(nil)
	for id, m := range metrics {
		a := agent.New(id, id)
		a.Capabilities = []string{"summarize"}
		_, err := svc.CreateOrReplace(context.Background(), a, manifest.Data{Metrics: m})
		require.NoError(t, err)
	}
	return svc
}

func TestSelectBestValue(t *testing.T) {
	// M1 scores 0.45 - 0.05 - 0.0125 = 0.3875; M2 scores 0.3 - 0.0125 -
	// 0.125 = 0.1625. M1 wins.
	svc := manifestsWith(t, map[string]map[string]float64{
		"m1": {manifest.MetricCostRate: 0.2, manifest.MetricLatencyMS: 500, manifest.MetricSuccessRate: 0.9},
		"m2": {manifest.MetricCostRate: 0.05, manifest.MetricLatencyMS: 5000, manifest.MetricSuccessRate: 0.6},
	})
	router := NewCostAwareRouter(svc, nil)

	selected, err := router.Select(context.Background(), "summarize", "", Constraints{})
	require.NoError(t, err)
	require.Equal(t, "m1", selected)
}

func TestSelectLowestCostTieBreaks(t *testing.T) {
	svc := manifestsWith(t, map[string]map[string]float64{
		"b": {manifest.MetricCostRate: 0.1, manifest.MetricLatencyMS: 100, manifest.MetricSuccessRate: 0.5},
		"a": {manifest.MetricCostRate: 0.1, manifest.MetricLatencyMS: 100, manifest.MetricSuccessRate: 0.5},
		"c": {manifest.MetricCostRate: 0.1, manifest.MetricLatencyMS: 50, manifest.MetricSuccessRate: 0.5},
	})
	router := NewCostAwareRouter(svc, nil)

	// Same cost everywhere: lower latency wins, then lexicographic id.
	selected, err := router.Select(context.Background(), "summarize", StrategyLowestCost, Constraints{})
	require.NoError(t, err)
	require.Equal(t, "c", selected)
}

func TestSelectLowestLatencyAndHighestSuccess(t *testing.T) {
	svc := manifestsWith(t, map[string]map[string]float64{
		"fast":     {manifest.MetricCostRate: 0.9, manifest.MetricLatencyMS: 10, manifest.MetricSuccessRate: 0.2},
		"reliable": {manifest.MetricCostRate: 0.9, manifest.MetricLatencyMS: 9000, manifest.MetricSuccessRate: 0.99},
	})
	router := NewCostAwareRouter(svc, nil)

	selected, err := router.Select(context.Background(), "summarize", StrategyLowestLatency, Constraints{})
	require.NoError(t, err)
	require.Equal(t, "fast", selected)

	selected, err = router.Select(context.Background(), "summarize", StrategyHighestSuccess, Constraints{})
	require.NoError(t, err)
	require.Equal(t, "reliable", selected)
}

func TestSelectUnfulfillableConstraintReturnsNone(t *testing.T) {
	svc := manifestsWith(t, map[string]map[string]float64{
		"m1": {manifest.MetricCostRate: 0.5, manifest.MetricLatencyMS: 500, manifest.MetricSuccessRate: 0.9},
	})
	router := NewCostAwareRouter(svc, nil)

	maxCost := 0.01
	selected, err := router.Select(context.Background(), "summarize", "", Constraints{MaxCost: &maxCost})
	require.NoError(t, err)
	require.Empty(t, selected)
}

func TestSelectExcludesAgentsWithoutMetricsUnderConstraints(t *testing.T) {
	svc := manifestsWith(t, map[string]map[string]float64{
		"opaque": nil,
	})
	router := NewCostAwareRouter(svc, nil)

	maxCost := 100.0
	selected, err := router.Select(context.Background(), "summarize", "", Constraints{MaxCost: &maxCost})
	require.NoError(t, err)
	require.Empty(t, selected)
}

func TestSelectUnknownCapability(t *testing.T) {
	svc := manifest.NewService(nil)
	router := NewCostAwareRouter(svc, nil)

	selected, err := router.Select(context.Background(), "paint", "", Constraints{})
	require.NoError(t, err)
	require.Empty(t, selected)
}

func TestRankOrdersAndLimits(t *testing.T) {
	svc := manifestsWith(t, map[string]map[string]float64{
		"m1": {manifest.MetricCostRate: 0.2, manifest.MetricLatencyMS: 500, manifest.MetricSuccessRate: 0.9},
		"m2": {manifest.MetricCostRate: 0.05, manifest.MetricLatencyMS: 5000, manifest.MetricSuccessRate: 0.6},
		"m3": {manifest.MetricCostRate: 0.9, manifest.MetricLatencyMS: 9000, manifest.MetricSuccessRate: 0.1},
	})
	router := NewCostAwareRouter(svc, nil)

	ranked, err := router.Rank(context.Background(), "summarize", 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	require.Equal(t, "m1", ranked[0].AgentID)
	require.Equal(t, "m2", ranked[1].AgentID)
}

func TestSetStrategy(t *testing.T) {
	svc := manifestsWith(t, map[string]map[string]float64{
		"cheap": {manifest.MetricCostRate: 0.01, manifest.MetricLatencyMS: 9000, manifest.MetricSuccessRate: 0.2},
		"good":  {manifest.MetricCostRate: 0.5, manifest.MetricLatencyMS: 100, manifest.MetricSuccessRate: 0.99},
	})
	router := NewCostAwareRouter(svc, nil)
	require.Equal(t, StrategyBestValue, router.Strategy())

	router.SetStrategy(StrategyLowestCost)
	selected, err := router.Select(context.Background(), "summarize", "", Constraints{})
	require.NoError(t, err)
	require.Equal(t, "cheap", selected)
}
