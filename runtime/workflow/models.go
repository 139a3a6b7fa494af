// Package workflow provides the orchestration layer: workflow definitions,
// the step executor, and the execution engine. Conditional steps evaluate a
// bounded expression language over the execution context; raw code
// evaluation is never performed.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// StepType enumerates the workflow step kinds. The executor runs every kind
// except webhook, which it rejects as an unsupported step type.
type StepType string

const (
	StepAgentCall   StepType = "agent_call"
	StepConditional StepType = "conditional"
	StepLoop        StepType = "loop"
	StepDelay       StepType = "delay"
	StepParallel    StepType = "parallel"
	StepWebhook     StepType = "webhook"
)

// Status enumerates workflow and execution lifecycle states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

type (
	// Step is a single workflow step definition.
	Step struct {
		// ID identifies the step within its workflow.
		ID string `json:"id"`
		// Type selects the step behavior.
		Type StepType `json:"step_type"`
		// Name is the human-readable step name.
		Name string `json:"name"`
		// Config carries type-specific settings (agent_id, capability,
		// message, iterations, duration_ms, steps).
		Config map[string]any `json:"config,omitempty"`
		// NextSteps lists follow-up step ids. Conditional steps pick
		// NextSteps[0] on true and NextSteps[1] on false.
		NextSteps []string `json:"next_steps,omitempty"`
		// Condition is the bounded expression for conditional steps.
		Condition string `json:"condition,omitempty"`
		// ErrorHandler names the step run when this step fails.
		ErrorHandler string `json:"error_handler,omitempty"`
	}

	// Workflow is a registered workflow definition.
	Workflow struct {
		// ID identifies the workflow.
		ID string `json:"id"`
		// Name is the human-readable workflow name.
		Name string `json:"name"`
		// Description documents the workflow.
		Description string `json:"description,omitempty"`
		// Version is the definition version.
		Version string `json:"version"`
		// Steps is the ordered step list; execution starts at Steps[0].
		Steps []Step `json:"steps"`
		// Status is the definition lifecycle state.
		Status Status `json:"status"`
		// CreatedAt and UpdatedAt track the definition lifecycle.
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		// Metadata carries free-form annotations.
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// Execution is one run of a workflow.
	Execution struct {
		// ExecutionID identifies the run.
		ExecutionID string `json:"execution_id"`
		// WorkflowID names the executed workflow.
		WorkflowID string `json:"workflow_id"`
		// Status is the run state.
		Status Status `json:"status"`
		// CurrentStep is the id of the step being executed.
		CurrentStep string `json:"current_step,omitempty"`
		// Context is the mutable execution context steps read and extend.
		Context map[string]any `json:"context"`
		// StepResults records each executed step's result by step id.
		StepResults map[string]StepResult `json:"step_results"`
		// StartedAt and CompletedAt bracket the run.
		StartedAt   time.Time  `json:"started_at"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
		// Error records the failure reason for failed runs.
		Error string `json:"error,omitempty"`
	}

	// StepResult is the outcome of one step execution.
	StepResult struct {
		// StepID identifies the executed step.
		StepID string `json:"step_id"`
		// Output carries step-specific result data merged into the context.
		Output map[string]any `json:"output,omitempty"`
		// NextStep overrides the sequential successor, if set.
		NextStep string `json:"next_step,omitempty"`
	}
)

// NewWorkflow creates a draft workflow with a fresh identifier.
func NewWorkflow(name string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		Version:   "1.0.0",
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}
