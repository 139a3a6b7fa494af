package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/storage"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

const workflowKeyPrefix = "workflow:"

// maxStepsPerExecution bounds one run so cyclic next-step references cannot
// spin forever.
const maxStepsPerExecution = 1000

type (
	// Engine registers workflow definitions and executes them. Definitions
	// persist under "workflow:<id>"; executions are process-local.
	Engine struct {
		mu         sync.RWMutex
		executions map[string]*Execution
		executor   *Executor
		store      storage.Store
		bus        *events.Bus
		logger     telemetry.Logger
	}

	// EngineOption configures an Engine.
	EngineOption func(*Engine)
)

// WithStore sets the definition store.
func WithStore(s storage.Store) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithEventBus sets the bus for workflow lifecycle events.
func WithEventBus(bus *events.Bus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine logger.
func WithLogger(l telemetry.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a workflow engine over the given step executor.
func NewEngine(executor *Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		executions: make(map[string]*Execution),
		executor:   executor,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.store == nil {
		e.store = storage.NewMemory()
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	return e
}

// Register stores a workflow definition. Top-level conditional steps are
// compiled so invalid conditions fail registration instead of execution;
// conditions of sub-steps inlined in loop or parallel configs are compiled
// only when they run.
func (e *Engine) Register(ctx context.Context, w *Workflow) error {
	if w == nil || w.ID == "" {
		return rlerrors.New(rlerrors.KindInvalidParams, "workflow id is required")
	}
	for i := range w.Steps {
		if w.Steps[i].Type == StepConditional {
			if _, err := CompileCondition(w.Steps[i].Condition); err != nil {
				return err
			}
		}
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return rlerrors.Wrap(rlerrors.KindFatal, err, "encoding workflow %q", w.ID)
	}
	if err := e.store.Set(ctx, workflowKeyPrefix+w.ID, raw); err != nil {
		return rlerrors.Wrap(rlerrors.KindTransient, err, "storing workflow %q", w.ID)
	}
	e.logger.Info(ctx, "registered workflow", "workflow_id", w.ID, "name", w.Name)
	return nil
}

// Get loads a workflow definition.
func (e *Engine) Get(ctx context.Context, workflowID string) (*Workflow, error) {
	raw, ok, err := e.store.Get(ctx, workflowKeyPrefix+workflowID)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindTransient, err, "loading workflow %q", workflowID)
	}
	if !ok {
		return nil, rlerrors.New(rlerrors.KindNotFound, "workflow %q not found", workflowID)
	}
	var w Workflow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindFatal, err, "decoding workflow %q", workflowID)
	}
	return &w, nil
}

// List returns every registered workflow definition.
func (e *Engine) List(ctx context.Context) ([]*Workflow, error) {
	keys, err := e.store.ListKeys(ctx, workflowKeyPrefix)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindTransient, err, "listing workflows")
	}
	out := make([]*Workflow, 0, len(keys))
	for _, key := range keys {
		w, err := e.Get(ctx, key[len(workflowKeyPrefix):])
		if err != nil {
			if rlerrors.IsKind(err, rlerrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Execute runs the workflow with the given initial context. The returned
// execution reflects the final state; failures are recorded on it rather
// than returned, mirroring the polling surface.
func (e *Engine) Execute(ctx context.Context, workflowID string, initialContext map[string]any) (*Execution, error) {
	w, err := e.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	execution := &Execution{
		ExecutionID: uuid.NewString(),
		WorkflowID:  workflowID,
		Status:      StatusRunning,
		Context:     map[string]any{"workflow_id": workflowID},
		StepResults: make(map[string]StepResult),
		StartedAt:   time.Now().UTC(),
	}
	for k, v := range initialContext {
		execution.Context[k] = v
	}

	e.mu.Lock()
	e.executions[execution.ExecutionID] = execution
	e.mu.Unlock()

	e.emit(ctx, events.WorkflowStarted, map[string]any{
		"execution_id": execution.ExecutionID,
		"workflow_id":  workflowID,
	})

	if err := e.runSteps(ctx, w, execution); err != nil {
		now := time.Now().UTC()
		e.mu.Lock()
		execution.Status = StatusFailed
		execution.Error = err.Error()
		execution.CompletedAt = &now
		e.mu.Unlock()
		e.logger.Error(ctx, "workflow execution failed", "execution_id", execution.ExecutionID, "error", err.Error())
		return execution, nil
	}

	now := time.Now().UTC()
	e.mu.Lock()
	execution.Status = StatusCompleted
	execution.CompletedAt = &now
	e.mu.Unlock()

	e.emit(ctx, events.WorkflowCompleted, map[string]any{
		"execution_id": execution.ExecutionID,
		"workflow_id":  workflowID,
	})
	return execution, nil
}

// runSteps walks the step graph from the first step, following explicit
// next-step results and falling back to each step's first successor.
func (e *Engine) runSteps(ctx context.Context, w *Workflow, execution *Execution) error {
	if len(w.Steps) == 0 {
		return nil
	}

	current := &w.Steps[0]
	for steps := 0; current != nil; steps++ {
		if steps >= maxStepsPerExecution {
			return rlerrors.New(rlerrors.KindInvalidState, "execution exceeded %d steps", maxStepsPerExecution)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		e.mu.Lock()
		execution.CurrentStep = current.ID
		e.mu.Unlock()

		result, err := e.executor.ExecuteStep(ctx, current, execution.Context)
		if err != nil {
			if current.ErrorHandler != "" {
				if handler := w.StepByID(current.ErrorHandler); handler != nil {
					current = handler
					continue
				}
			}
			return err
		}

		e.mu.Lock()
		execution.StepResults[current.ID] = result
		for k, v := range result.Output {
			execution.Context[k] = v
		}
		e.mu.Unlock()

		next := result.NextStep
		if next == "" && len(current.NextSteps) > 0 {
			next = current.NextSteps[0]
		}
		if next == "" {
			return nil
		}
		current = w.StepByID(next)
	}
	return nil
}

// Execution returns the run with the given identifier.
func (e *Engine) Execution(executionID string) (*Execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[executionID]
	return exec, ok
}

func (e *Engine) emit(ctx context.Context, typ events.Type, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, events.Event{Type: typ, Payload: payload, Source: "workflow"})
}
