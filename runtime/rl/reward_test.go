package rl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/agent"
	"github.com/KunjShah01/RL-A2A/runtime/manifest"
)

func manifestService(t *testing.T, agentID string, metrics map[string]float64) *manifest.Service {
	t.Helper()
	svc := manifest.NewService(nil)
	a := agent.New(agentID, agentID)
	_, err := svc.CreateOrReplace(context.Background(), a, manifest.Data{Metrics: metrics})
	require.NoError(t, err)
	return svc
}

func TestCalculateSuccessWithObservedInputs(t *testing.T) {
	rc := NewRewardCalculator(nil)
	got := rc.Calculate(context.Background(), "a", Outcome{
		Success:        true,
		Cost:           f64(0.5),
		ResponseTimeMS: f64(2000),
	})
	// 1 - 0.5*0.2 - 0.2*0.1 = 0.88
	require.InDelta(t, 0.88, got, 1e-9)
}

func TestCalculateFailureIsNegative(t *testing.T) {
	rc := NewRewardCalculator(nil)
	got := rc.Calculate(context.Background(), "a", Outcome{Success: false})
	require.InDelta(t, -1.0, got, 1e-9)
}

func TestCalculateSuccessBonusFromManifest(t *testing.T) {
	svc := manifestService(t, "a", map[string]float64{
		manifest.MetricSuccessRate: 0.9,
		manifest.MetricCostRate:    0.0,
		manifest.MetricLatencyMS:   0.0,
	})
	rc := NewRewardCalculator(svc)
	got := rc.Calculate(context.Background(), "a", Outcome{Success: true})
	// 1 - 0 - 0 + (0.9-0.5)*0.1 = 1.04
	require.InDelta(t, 1.04, got, 1e-9)
}

func TestCalculateFallsBackToManifestMetrics(t *testing.T) {
	svc := manifestService(t, "a", map[string]float64{
		manifest.MetricSuccessRate: 0.5,
		manifest.MetricCostRate:    1.0,
		manifest.MetricLatencyMS:   5000,
	})
	rc := NewRewardCalculator(svc)
	got := rc.Calculate(context.Background(), "a", Outcome{Success: true})
	// 1 - 1.0*0.2 - 0.5*0.1 + 0 = 0.75
	require.InDelta(t, 0.75, got, 1e-9)
}

func TestCalculateBaseRewardOverride(t *testing.T) {
	rc := NewRewardCalculator(nil)
	got := rc.Calculate(context.Background(), "a", Outcome{Success: true, BaseReward: f64(2)})
	require.InDelta(t, 2.0, got, 1e-9)
}
