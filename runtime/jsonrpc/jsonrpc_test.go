package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

func echoEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	e.RegisterMethod("echo", func(_ context.Context, params json.RawMessage) (any, error) {
		var doc map[string]any
		if err := json.Unmarshal(params, &doc); err != nil {
			return nil, rlerrors.Wrap(rlerrors.KindInvalidParams, err, "decoding echo params")
		}
		return doc, nil
	})
	return e
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestSingleRequest(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"echo","params":{"x":1}}`))
	doc := decode(t, out)
	require.Equal(t, "2.0", doc["jsonrpc"])
	require.Equal(t, float64(1), doc["id"])
	require.Equal(t, map[string]any{"x": float64(1)}, doc["result"])
	_, hasError := doc["error"]
	require.False(t, hasError)
}

func TestParseErrorEmptyFrame(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(``))
	doc := decode(t, out)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(CodeParseError), errObj["code"])
	require.Nil(t, doc["id"])
}

func TestInvalidRequestVersion(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"1.0","id":3,"method":"echo"}`))
	doc := decode(t, out)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(CodeInvalidRequest), errObj["code"])
	require.Equal(t, float64(3), doc["id"])
}

func TestMethodNotFound(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":"a","method":"nope"}`))
	doc := decode(t, out)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(CodeMethodNotFound), errObj["code"])
	require.Equal(t, "a", doc["id"])
}

func TestNotificationProducesNoResponse(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"echo","params":{}}`))
	require.Nil(t, out)
}

func TestNotificationErrorsAreSwallowed(t *testing.T) {
	e := NewEngine()
	e.RegisterMethod("boom", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("kaboom")
	})
	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"boom"}`))
	require.Nil(t, out)
}

func TestBatchCollectsInArrivalOrderMinusNotifications(t *testing.T) {
	e := echoEngine(t)
	frame := `[
		{"jsonrpc":"2.0","id":1,"method":"echo","params":{"n":1}},
		{"jsonrpc":"2.0","method":"echo","params":{"n":"notify"}},
		{"jsonrpc":"2.0","id":2,"method":"echo","params":{"n":2}}
	]`
	out := e.Handle(context.Background(), []byte(frame))

	var responses []map[string]any
	require.NoError(t, json.Unmarshal(out, &responses))
	require.Len(t, responses, 2)
	require.Equal(t, float64(1), responses[0]["id"])
	require.Equal(t, float64(2), responses[1]["id"])
}

func TestEmptyBatch(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(`[]`))
	doc := decode(t, out)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(CodeInvalidRequest), errObj["code"])
	require.Nil(t, doc["id"])
}

func TestBatchOfNotificationsProducesNoResponse(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(`[{"jsonrpc":"2.0","method":"echo","params":{}}]`))
	require.Nil(t, out)
}

func TestNonListPayloadIsSingleRequest(t *testing.T) {
	e := echoEngine(t)
	out := e.Handle(context.Background(), []byte(` {"jsonrpc":"2.0","id":7,"method":"echo","params":{}}`))
	doc := decode(t, out)
	require.Equal(t, float64(7), doc["id"])
}

func TestSchemaValidation(t *testing.T) {
	e := NewEngine()
	schema := `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`
	require.NoError(t, e.RegisterMethodWithSchema("greet", []byte(schema),
		func(_ context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return "hello " + p.Name, nil
		}))

	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"greet","params":{"name":"ops"}}`))
	doc := decode(t, out)
	require.Equal(t, "hello ops", doc["result"])

	out = e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"greet","params":{}}`))
	doc = decode(t, out)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(CodeInvalidParams), errObj["code"])
}

func TestTaxonomyErrorMapping(t *testing.T) {
	e := NewEngine()
	e.RegisterMethod("missing", func(context.Context, json.RawMessage) (any, error) {
		return nil, rlerrors.New(rlerrors.KindNotFound, "task not found")
	})
	e.RegisterMethod("invalid", func(context.Context, json.RawMessage) (any, error) {
		return nil, rlerrors.New(rlerrors.KindInvalidParams, "bad params")
	})
	e.RegisterMethod("fatal", func(context.Context, json.RawMessage) (any, error) {
		return nil, rlerrors.New(rlerrors.KindFatal, "invariant violated")
	})

	cases := []struct {
		method string
		code   float64
		kind   string
	}{
		{"missing", CodeServerError, "not_found"},
		{"invalid", CodeInvalidParams, "invalid_params"},
		{"fatal", CodeInternalError, "fatal"},
	}
	for _, tc := range cases {
		out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"`+tc.method+`"}`))
		doc := decode(t, out)
		errObj := doc["error"].(map[string]any)
		require.Equal(t, tc.code, errObj["code"], tc.method)
		data := errObj["data"].(map[string]any)
		require.Equal(t, tc.kind, data["kind"], tc.method)
	}
}

func TestHandlerErrorPassthrough(t *testing.T) {
	e := NewEngine()
	e.RegisterMethod("custom", func(context.Context, json.RawMessage) (any, error) {
		return nil, &Error{Code: -32050, Message: "custom server error"}
	})
	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"custom"}`))
	doc := decode(t, out)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(-32050), errObj["code"])
}

func TestUnregisterMethod(t *testing.T) {
	e := echoEngine(t)
	require.Contains(t, e.Methods(), "echo")
	e.UnregisterMethod("echo")
	out := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"echo"}`))
	doc := decode(t, out)
	errObj := doc["error"].(map[string]any)
	require.Equal(t, float64(CodeMethodNotFound), errObj["code"])
}
