package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/events"
	"github.com/KunjShah01/RL-A2A/runtime/jsonrpc"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

type stubRouter struct {
	routed []*message.Message
	err    error
}

func (r *stubRouter) Route(_ context.Context, m *message.Message) error {
	if r.err != nil {
		return r.err
	}
	r.routed = append(r.routed, m)
	return nil
}

func newTestEngine(t *testing.T, router Router) (*Engine, *jsonrpc.Engine) {
	t.Helper()
	rpc := jsonrpc.NewEngine()
	engine, err := NewEngine(rpc, WithRouter(router))
	require.NoError(t, err)
	return engine, rpc
}

func call(t *testing.T, rpc *jsonrpc.Engine, method string, params string) map[string]any {
	t.Helper()
	frame := `{"jsonrpc":"2.0","id":1,"method":"` + method + `","params":` + params + `}`
	out := rpc.Handle(context.Background(), []byte(frame))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	return doc
}

func TestTaskLifecycle(t *testing.T) {
	router := &stubRouter{}
	engine, rpc := newTestEngine(t, router)

	doc := call(t, rpc, MethodTasksSend, `{"task":{"do":"x"},"target_agent":"u1","priority":3,"sender_id":"u0"}`)
	result := doc["result"].(map[string]any)
	taskID := result["task_id"].(string)
	require.NotEmpty(t, taskID)
	require.Equal(t, "pending", result["status"])

	// The routed message carries the task linkage and clamped priority.
	require.Len(t, router.routed, 1)
	routed := router.routed[0]
	require.Equal(t, message.TypeTask, routed.Type)
	require.Equal(t, message.PriorityHigh, routed.Priority)
	require.Equal(t, taskID, routed.TaskID)
	require.Equal(t, "u1", routed.ReceiverID)

	status := call(t, rpc, MethodTasksStatus, `{"task_id":"`+taskID+`"}`)
	statusResult := status["result"].(map[string]any)
	require.Equal(t, "pending", statusResult["status"])

	require.NoError(t, engine.UpdateTaskStatus(context.Background(), taskID, StatusRunning, nil, ""))
	require.NoError(t, engine.UpdateTaskStatus(context.Background(), taskID, StatusCompleted, map[string]any{"ok": true}, ""))

	status = call(t, rpc, MethodTasksStatus, `{"task_id":"`+taskID+`"}`)
	statusResult = status["result"].(map[string]any)
	require.Equal(t, "completed", statusResult["status"])
	require.Equal(t, map[string]any{"ok": true}, statusResult["result"])

	cancel := call(t, rpc, MethodTasksCancel, `{"task_id":"`+taskID+`"}`)
	errObj := cancel["error"].(map[string]any)
	require.Equal(t, float64(jsonrpc.CodeServerError), errObj["code"])
	data := errObj["data"].(map[string]any)
	require.Equal(t, "invalid_state", data["kind"])
}

func TestTasksSendRoutingFailureStillReturnsTaskID(t *testing.T) {
	router := &stubRouter{err: errors.New("no delivery channel")}
	_, rpc := newTestEngine(t, router)

	doc := call(t, rpc, MethodTasksSend, `{"task":{"do":"x"},"target_agent":"u1"}`)
	result := doc["result"].(map[string]any)
	require.NotEmpty(t, result["task_id"])
	require.Equal(t, "failed", result["status"])

	status := call(t, rpc, MethodTasksStatus, `{"task_id":"`+result["task_id"].(string)+`"}`)
	statusResult := status["result"].(map[string]any)
	require.Equal(t, "failed", statusResult["status"])
	require.Contains(t, statusResult["error"], "no delivery channel")
}

func TestTasksStatusUnknown(t *testing.T) {
	_, rpc := newTestEngine(t, &stubRouter{})
	doc := call(t, rpc, MethodTasksStatus, `{"task_id":"ghost"}`)
	errObj := doc["error"].(map[string]any)
	data := errObj["data"].(map[string]any)
	require.Equal(t, "not_found", data["kind"])
}

func TestTasksCancelFromPendingAndRunning(t *testing.T) {
	engine, rpc := newTestEngine(t, &stubRouter{})

	doc := call(t, rpc, MethodTasksSend, `{"task":{},"target_agent":"u1"}`)
	taskID := doc["result"].(map[string]any)["task_id"].(string)

	cancel := call(t, rpc, MethodTasksCancel, `{"task_id":"`+taskID+`"}`)
	require.Equal(t, "cancelled", cancel["result"].(map[string]any)["status"])

	// Any later status update targeting the cancelled task is refused.
	err := engine.UpdateTaskStatus(context.Background(), taskID, StatusCompleted, nil, "")
	require.True(t, rlerrors.IsKind(err, rlerrors.KindInvalidState))
}

func TestTasksSendValidatesParams(t *testing.T) {
	_, rpc := newTestEngine(t, &stubRouter{})

	doc := call(t, rpc, MethodTasksSend, `{"task":{}}`)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(jsonrpc.CodeInvalidParams), errObj["code"])

	doc = call(t, rpc, MethodTasksSend, `{"task":{},"target_agent":"u1","priority":9}`)
	errObj = doc["error"].(map[string]any)
	require.Equal(t, float64(jsonrpc.CodeInvalidParams), errObj["code"])
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	engine, rpc := newTestEngine(t, &stubRouter{})
	doc := call(t, rpc, MethodTasksSend, `{"task":{},"target_agent":"u1"}`)
	taskID := doc["result"].(map[string]any)["task_id"].(string)

	require.NoError(t, engine.UpdateTaskStatus(context.Background(), taskID, StatusRunning, nil, ""))
	require.NoError(t, engine.UpdateTaskStatus(context.Background(), taskID, StatusFailed, nil, "boom"))

	err := engine.UpdateTaskStatus(context.Background(), taskID, StatusRunning, nil, "")
	require.True(t, rlerrors.IsKind(err, rlerrors.KindInvalidState))

	task, getErr := engine.Get(taskID)
	require.NoError(t, getErr)
	require.Equal(t, StatusFailed, task.Status)
}

func TestTaskEvents(t *testing.T) {
	bus := events.NewBus()
	rpc := jsonrpc.NewEngine()
	engine, err := NewEngine(rpc, WithRouter(&stubRouter{}), WithEventBus(bus))
	require.NoError(t, err)

	doc := call(t, rpc, MethodTasksSend, `{"task":{},"target_agent":"u1"}`)
	taskID := doc["result"].(map[string]any)["task_id"].(string)
	require.Len(t, bus.History(events.TaskCreated, 0), 1)

	require.NoError(t, engine.UpdateTaskStatus(context.Background(), taskID, StatusCompleted, nil, ""))
	require.Len(t, bus.History(events.TaskCompleted, 0), 1)
}

func TestListTasks(t *testing.T) {
	engine, rpc := newTestEngine(t, &stubRouter{})
	call(t, rpc, MethodTasksSend, `{"task":{},"target_agent":"u1"}`)
	call(t, rpc, MethodTasksSend, `{"task":{},"target_agent":"u2"}`)

	require.Len(t, engine.List(""), 2)
	require.Len(t, engine.List(StatusPending), 2)
	require.Empty(t, engine.List(StatusFailed))
}
