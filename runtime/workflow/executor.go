package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/routing"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// maxLoopIterations bounds loop steps so a misconfigured workflow cannot
// spin forever.
const maxLoopIterations = 10000

type (
	// Router is the message routing dependency used by agent_call steps.
	Router interface {
		Route(ctx context.Context, m *message.Message) error
	}

	// Executor runs individual workflow steps against the message router.
	Executor struct {
		router Router
		logger telemetry.Logger
	}
)

// NewExecutor creates a step executor over the given router.
func NewExecutor(router Router, logger telemetry.Logger) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Executor{router: router, logger: logger}
}

// ExecuteStep runs one step and returns its result. The execution context
// is read-only here; the engine merges outputs back.
func (e *Executor) ExecuteStep(ctx context.Context, step *Step, execContext map[string]any) (StepResult, error) {
	switch step.Type {
	case StepAgentCall:
		return e.executeAgentCall(ctx, step, execContext)
	case StepConditional:
		return e.executeConditional(step, execContext)
	case StepLoop:
		return e.executeLoop(ctx, step, execContext)
	case StepDelay:
		return e.executeDelay(ctx, step)
	case StepParallel:
		return e.executeParallel(ctx, step, execContext)
	default:
		return StepResult{}, rlerrors.New(rlerrors.KindInvalidParams, "unsupported step type %q", step.Type)
	}
}

// executeAgentCall routes a task message to the configured agent (or by
// capability).
func (e *Executor) executeAgentCall(ctx context.Context, step *Step, execContext map[string]any) (StepResult, error) {
	agentID, _ := step.Config["agent_id"].(string)
	capability, _ := step.Config["capability"].(string)
	if agentID == "" && capability == "" {
		return StepResult{}, rlerrors.New(rlerrors.KindInvalidParams, "agent_call step %q needs agent_id or capability", step.ID)
	}

	sender, _ := execContext["workflow_id"].(string)
	if sender == "" {
		sender = "workflow"
	}
	m := message.New(sender, agentID, step.Config["message"], message.TypeTask)
	m.Metadata["workflow_step"] = step.ID
	if capability != "" {
		m.Metadata[routing.MetadataRequiredCapability] = capability
	}

	if err := e.router.Route(ctx, m); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		StepID: step.ID,
		Output: map[string]any{"message_sent": true, "message_id": m.ID},
	}, nil
}

// executeConditional evaluates the bounded condition and selects the branch:
// NextSteps[0] on true, NextSteps[1] on false.
func (e *Executor) executeConditional(step *Step, execContext map[string]any) (StepResult, error) {
	if step.Condition == "" {
		return StepResult{}, rlerrors.New(rlerrors.KindInvalidParams, "conditional step %q has no condition", step.ID)
	}
	result, err := EvalCondition(step.Condition, execContext)
	if err != nil {
		return StepResult{}, err
	}

	next := ""
	if result {
		if len(step.NextSteps) > 0 {
			next = step.NextSteps[0]
		}
	} else if len(step.NextSteps) > 1 {
		next = step.NextSteps[1]
	}
	return StepResult{
		StepID:   step.ID,
		Output:   map[string]any{"condition_result": result},
		NextStep: next,
	}, nil
}

// executeLoop runs the configured sub-steps for the configured iteration
// count.
func (e *Executor) executeLoop(ctx context.Context, step *Step, execContext map[string]any) (StepResult, error) {
	iterations := intConfig(step.Config, "iterations", 1)
	if iterations > maxLoopIterations {
		return StepResult{}, rlerrors.New(rlerrors.KindInvalidParams, "loop step %q iteration count %d exceeds limit", step.ID, iterations)
	}
	subSteps := subStepsOf(step)

	var results []map[string]any
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return StepResult{}, err
		}
		iteration := map[string]any{"iteration": i}
		for s := range subSteps {
			sub := &subSteps[s]
			res, err := e.ExecuteStep(ctx, sub, execContext)
			if err != nil {
				return StepResult{}, err
			}
			iteration[sub.ID] = res.Output
		}
		results = append(results, iteration)
	}
	return StepResult{
		StepID: step.ID,
		Output: map[string]any{"iterations": results},
	}, nil
}

// executeDelay sleeps for the configured duration, bounded by ctx.
func (e *Executor) executeDelay(ctx context.Context, step *Step) (StepResult, error) {
	ms := intConfig(step.Config, "duration_ms", 0)
	if ms > 0 {
		select {
		case <-ctx.Done():
			return StepResult{}, ctx.Err()
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}
	}
	return StepResult{StepID: step.ID, Output: map[string]any{"delayed_ms": ms}}, nil
}

// executeParallel runs the configured sub-steps concurrently and joins.
func (e *Executor) executeParallel(ctx context.Context, step *Step, execContext map[string]any) (StepResult, error) {
	subSteps := subStepsOf(step)
	if len(subSteps) == 0 {
		return StepResult{StepID: step.ID, Output: map[string]any{}}, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outputs  = make(map[string]any, len(subSteps))
		firstErr error
	)
	for i := range subSteps {
		sub := &subSteps[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ExecuteStep(ctx, sub, execContext)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			outputs[sub.ID] = res.Output
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return StepResult{}, firstErr
	}
	return StepResult{StepID: step.ID, Output: outputs}, nil
}

// subStepsOf decodes the inline sub-step definitions of loop and parallel
// steps.
func subStepsOf(step *Step) []Step {
	raw, ok := step.Config["steps"].([]any)
	if !ok {
		return nil
	}
	var out []Step
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sub := Step{
			ID:   stringConfig(m, "id", fmt.Sprintf("%s.%d", step.ID, i)),
			Type: StepType(stringConfig(m, "step_type", string(StepAgentCall))),
			Name: stringConfig(m, "name", ""),
		}
		if cfg, ok := m["config"].(map[string]any); ok {
			sub.Config = cfg
		}
		if cond, ok := m["condition"].(string); ok {
			sub.Condition = cond
		}
		out = append(out, sub)
	}
	return out
}

func intConfig(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func stringConfig(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
