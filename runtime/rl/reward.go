package rl

import (
	"context"
	"math"

	"github.com/KunjShah01/RL-A2A/runtime/manifest"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

// Default reward calculator coefficients.
const (
	DefaultBaseReward           = 1.0
	DefaultCostPenaltyWeight    = 0.2
	DefaultLatencyPenaltyWeight = 0.1
)

type (
	// RewardCalculator derives a scalar reward from an observed outcome,
	// penalized by cost and latency and nudged by the agent's manifest
	// success rate. Missing observations fall back to manifest metrics;
	// without a manifest they contribute nothing. A manifest lacking a
	// metric supplies a default: cost 0, latency 1000 ms, success rate 0.5.
	RewardCalculator struct {
		manifests            *manifest.Service
		baseReward           float64
		costPenaltyWeight    float64
		latencyPenaltyWeight float64
	}

	// Outcome captures one observed interaction with an agent. Nil fields
	// were not observed.
	Outcome struct {
		// Success reports whether the interaction succeeded.
		Success bool
		// ResponseTimeMS is the observed latency in milliseconds.
		ResponseTimeMS *float64
		// Cost is the observed cost.
		Cost *float64
		// BaseReward overrides the default base reward when non-nil.
		BaseReward *float64
	}
)

// NewRewardCalculator creates a calculator with the default coefficients.
// The manifest service is optional; without it no fallbacks or success
// bonuses apply.
func NewRewardCalculator(manifests *manifest.Service) *RewardCalculator {
	return &RewardCalculator{
		manifests:            manifests,
		baseReward:           DefaultBaseReward,
		costPenaltyWeight:    DefaultCostPenaltyWeight,
		latencyPenaltyWeight: DefaultLatencyPenaltyWeight,
	}
}

// Calculate computes the reward for the agent's outcome:
//
//	base·(success ? 1 : −1) − w_c·cost − w_l·min(latency/10000, 1) + bonus
//
// where bonus = (manifest_success_rate − 0.5)·0.1 on success when manifest
// metrics exist.
func (rc *RewardCalculator) Calculate(ctx context.Context, agentID string, outcome Outcome) float64 {
	base := rc.baseReward
	if outcome.BaseReward != nil {
		base = *outcome.BaseReward
	}
	reward := base
	if !outcome.Success {
		reward = -base
	}

	var metrics map[string]float64
	if rc.manifests != nil {
		if m, err := rc.manifests.Get(ctx, agentID); err == nil {
			metrics = m.Metrics
		} else if !rlerrors.IsKind(err, rlerrors.KindNotFound) {
			metrics = nil
		}
	}

	switch {
	case outcome.Cost != nil:
		reward -= *outcome.Cost * rc.costPenaltyWeight
	case metrics != nil:
		reward -= metricOr(metrics, manifest.MetricCostRate, 0) * rc.costPenaltyWeight
	}

	switch {
	case outcome.ResponseTimeMS != nil:
		reward -= math.Min(*outcome.ResponseTimeMS/latencyScale, 1) * rc.latencyPenaltyWeight
	case metrics != nil:
		reward -= math.Min(metricOr(metrics, manifest.MetricLatencyMS, 1000)/latencyScale, 1) * rc.latencyPenaltyWeight
	}

	if outcome.Success && metrics != nil {
		successRate := metricOr(metrics, manifest.MetricSuccessRate, 0.5)
		reward += (successRate - 0.5) * 0.1
	}
	return reward
}

func metricOr(metrics map[string]float64, name string, fallback float64) float64 {
	if v, ok := metrics[name]; ok {
		return v
	}
	return fallback
}
