package a2a

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/jsonrpc"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/storage"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// A2A method names bound to the JSON-RPC engine.
const (
	MethodTasksSend   = "tasks/send"
	MethodTasksStatus = "tasks/status"
	MethodTasksCancel = "tasks/cancel"
)

const taskKeyPrefix = "task:"

type (
	// Router is the message routing dependency. The engine never waits for
	// task completion through it; delivery feedback arrives via
	// UpdateTaskStatus.
	Router interface {
		Route(ctx context.Context, m *message.Message) error
	}

	// Engine owns the task store and binds the A2A methods to a JSON-RPC
	// engine. It is safe for concurrent use.
	Engine struct {
		mu     sync.RWMutex
		tasks  map[string]*Task
		rpc    *jsonrpc.Engine
		router Router
		store  storage.Store
		bus    *events.Bus
		logger telemetry.Logger
	}

	// Option configures an Engine.
	Option func(*Engine)

	// SendResult is the tasks/send and tasks/cancel result document.
	SendResult struct {
		TaskID string `json:"task_id"`
		Status Status `json:"status"`
	}

	// StatusResult is the tasks/status result document.
	StatusResult struct {
		TaskID    string `json:"task_id"`
		Status    Status `json:"status"`
		CreatedAt string `json:"created_at"`
		UpdatedAt string `json:"updated_at"`
		Result    any    `json:"result,omitempty"`
		Error     string `json:"error,omitempty"`
	}

	sendParams struct {
		Task        any    `json:"task"`
		TargetAgent string `json:"target_agent"`
		Priority    *int   `json:"priority"`
		SenderID    string `json:"sender_id"`
	}

	taskIDParams struct {
		TaskID string `json:"task_id"`
	}
)

// sendSchema validates tasks/send parameters before dispatch.
const sendSchema = `{
	"type": "object",
	"required": ["task", "target_agent"],
	"properties": {
		"task": {},
		"target_agent": {"type": "string", "minLength": 1},
		"priority": {"type": "integer", "minimum": 1, "maximum": 4},
		"sender_id": {"type": "string"}
	}
}`

// taskIDSchema validates tasks/status and tasks/cancel parameters.
const taskIDSchema = `{
	"type": "object",
	"required": ["task_id"],
	"properties": {
		"task_id": {"type": "string", "minLength": 1}
	}
}`

// WithRouter sets the message router used by tasks/send.
func WithRouter(r Router) Option {
	return func(e *Engine) { e.router = r }
}

// WithStore sets the store task snapshots are written through to.
func WithStore(s storage.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithEventBus sets the bus for task lifecycle events.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an A2A engine bound to the given JSON-RPC engine and
// registers the three task methods on it.
func NewEngine(rpc *jsonrpc.Engine, opts ...Option) (*Engine, error) {
	e := &Engine{
		tasks: make(map[string]*Task),
		rpc:   rpc,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.store == nil {
		e.store = storage.NewMemory()
	}

	if err := rpc.RegisterMethodWithSchema(MethodTasksSend, []byte(sendSchema), e.handleTasksSend); err != nil {
		return nil, err
	}
	if err := rpc.RegisterMethodWithSchema(MethodTasksStatus, []byte(taskIDSchema), e.handleTasksStatus); err != nil {
		return nil, err
	}
	if err := rpc.RegisterMethodWithSchema(MethodTasksCancel, []byte(taskIDSchema), e.handleTasksCancel); err != nil {
		return nil, err
	}
	return e, nil
}

// RPC returns the underlying JSON-RPC engine.
func (e *Engine) RPC() *jsonrpc.Engine { return e.rpc }

// handleTasksSend allocates a task, constructs the task message, and routes
// it. Routing failures mark the task failed but still return the task id so
// the caller can poll.
func (e *Engine) handleTasksSend(ctx context.Context, params json.RawMessage) (any, error) {
	var p sendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindInvalidParams, err, "decoding tasks/send params")
	}

	priority := message.PriorityNormal
	if p.Priority != nil {
		priority = message.Priority(*p.Priority).Clamp()
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.NewString(),
		Payload:     p.Task,
		TargetAgent: p.TargetAgent,
		SenderID:    p.SenderID,
		Priority:    int(priority),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	e.tasks[task.ID] = task
	e.mu.Unlock()
	e.persist(ctx, task)
	e.emit(ctx, events.TaskCreated, map[string]any{"task_id": task.ID, "target_agent": task.TargetAgent})

	if e.router != nil {
		m := message.New(p.SenderID, p.TargetAgent, p.Task, message.TypeTask)
		m.Priority = priority
		m.TaskID = task.ID
		m.Metadata["a2a_method"] = MethodTasksSend
		if err := e.router.Route(ctx, m); err != nil {
			e.logger.Error(ctx, "routing task message failed", "task_id", task.ID, "error", err.Error())
			e.mu.Lock()
			task.Status = StatusFailed
			task.Error = err.Error()
			task.UpdatedAt = time.Now().UTC()
			snapshot := task.clone()
			e.mu.Unlock()
			e.persist(ctx, snapshot)
			e.emit(ctx, events.TaskFailed, map[string]any{"task_id": snapshot.ID, "error": snapshot.Error})
		}
	}

	e.mu.RLock()
	status := task.Status
	e.mu.RUnlock()
	e.logger.Info(ctx, "created task", "task_id", task.ID, "target_agent", p.TargetAgent)
	return SendResult{TaskID: task.ID, Status: status}, nil
}

func (e *Engine) handleTasksStatus(_ context.Context, params json.RawMessage) (any, error) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindInvalidParams, err, "decoding tasks/status params")
	}
	task, err := e.Get(p.TaskID)
	if err != nil {
		return nil, err
	}
	return StatusResult{
		TaskID:    task.ID,
		Status:    task.Status,
		CreatedAt: task.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: task.UpdatedAt.Format(time.RFC3339Nano),
		Result:    task.Result,
		Error:     task.Error,
	}, nil
}

// handleTasksCancel transitions the task to cancelled. Cancellation is
// advisory: in-flight work is not forcibly aborted, but any later status
// update targeting the task is refused.
func (e *Engine) handleTasksCancel(ctx context.Context, params json.RawMessage) (any, error) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindInvalidParams, err, "decoding tasks/cancel params")
	}

	e.mu.Lock()
	task, ok := e.tasks[p.TaskID]
	if !ok {
		e.mu.Unlock()
		return nil, rlerrors.New(rlerrors.KindNotFound, "task %q not found", p.TaskID)
	}
	if task.Status.Terminal() {
		status := task.Status
		e.mu.Unlock()
		return nil, rlerrors.New(rlerrors.KindInvalidState, "cannot cancel task in status %q", status)
	}
	task.Status = StatusCancelled
	task.UpdatedAt = time.Now().UTC()
	snapshot := task.clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	e.logger.Info(ctx, "cancelled task", "task_id", p.TaskID)
	return SendResult{TaskID: p.TaskID, Status: StatusCancelled}, nil
}

// Get returns a copy of the task.
func (e *Engine) Get(taskID string) (*Task, error) {
	e.mu.RLock()
	task, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		return nil, rlerrors.New(rlerrors.KindNotFound, "task %q not found", taskID)
	}
	return task.clone(), nil
}

// List returns copies of all tasks, optionally filtered by status.
func (e *Engine) List(status Status) []*Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.clone())
	}
	return out
}

// UpdateTaskStatus is the single point of mutation for task state. It
// rejects any transition that leaves a terminal state.
func (e *Engine) UpdateTaskStatus(ctx context.Context, taskID string, status Status, result any, errMsg string) error {
	e.mu.Lock()
	task, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return rlerrors.New(rlerrors.KindNotFound, "task %q not found", taskID)
	}
	if task.Status.Terminal() {
		current := task.Status
		e.mu.Unlock()
		return rlerrors.New(rlerrors.KindInvalidState, "task %q is %s and cannot transition to %s", taskID, current, status)
	}
	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	if result != nil {
		task.Result = result
	}
	if errMsg != "" {
		task.Error = errMsg
	}
	snapshot := task.clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	switch status {
	case StatusCompleted:
		e.emit(ctx, events.TaskCompleted, map[string]any{"task_id": taskID})
	case StatusFailed:
		e.emit(ctx, events.TaskFailed, map[string]any{"task_id": taskID, "error": errMsg})
	}
	return nil
}

// persist writes the task snapshot through to the store. Failures are
// logged, not surfaced: the in-memory store remains authoritative within
// the process lifetime.
func (e *Engine) persist(ctx context.Context, task *Task) {
	raw, err := json.Marshal(task)
	if err != nil {
		e.logger.Error(ctx, "encoding task snapshot failed", "task_id", task.ID, "error", err.Error())
		return
	}
	if err := e.store.Set(ctx, taskKeyPrefix+task.ID, raw); err != nil {
		e.logger.Warn(ctx, "persisting task snapshot failed", "task_id", task.ID, "error", err.Error())
	}
}

func (e *Engine) emit(ctx context.Context, typ events.Type, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, events.Event{Type: typ, Payload: payload, Source: "a2a"})
}
