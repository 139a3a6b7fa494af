// Package jsonrpc implements a complete JSON-RPC 2.0 engine: single
// requests, notifications, and batches, with a typed error model and
// optional per-method parameter schemas. The engine is transport-neutral;
// the serving layer feeds it raw frames and forwards the reply bytes.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// Canonical JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

type (
	// Handler executes a registered method. Handlers may block; the engine
	// invokes them on the caller's goroutine and callers needing
	// asynchronous execution spawn their own.
	Handler func(ctx context.Context, params json.RawMessage) (any, error)

	// Error is a JSON-RPC error object. Handlers may return *Error directly
	// to control the code; taxonomy errors are mapped automatically.
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data,omitempty"`
	}

	// Request is the parsed JSON-RPC request envelope. A nil ID marks a
	// notification.
	Request struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      json.RawMessage `json:"id"`
	}

	// Response is the JSON-RPC response envelope. Exactly one of Result and
	// Error appears on the wire.
	Response struct {
		JSONRPC string
		Result  any
		Error   *Error
		ID      json.RawMessage
	}

	methodEntry struct {
		handler Handler
		schema  *jsonschema.Schema
	}

	// Engine dispatches JSON-RPC requests to registered method handlers.
	// It is safe for concurrent use.
	Engine struct {
		mu      sync.RWMutex
		methods map[string]methodEntry
		logger  telemetry.Logger
	}

	// Option configures an Engine.
	Option func(*Engine)
)

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// MarshalJSON writes the response envelope with exactly one of the result
// and error members, per the JSON-RPC 2.0 specification.
func (r Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	if id == nil {
		id = json.RawMessage("null")
	}
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string          `json:"jsonrpc"`
			Error   *Error          `json:"error"`
			ID      json.RawMessage `json:"id"`
		}{"2.0", r.Error, id})
	}
	return json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  any             `json:"result"`
		ID      json.RawMessage `json:"id"`
	}{"2.0", r.Result, id})
}

// WithLogger sets the engine logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with an empty dispatch table.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{methods: make(map[string]methodEntry)}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	return e
}

// RegisterMethod adds a handler to the dispatch table, replacing any
// previous registration for the name.
func (e *Engine) RegisterMethod(name string, handler Handler) {
	e.mu.Lock()
	e.methods[name] = methodEntry{handler: handler}
	e.mu.Unlock()
}

// RegisterMethodWithSchema adds a handler whose params are validated against
// the given JSON Schema document before invocation. Validation failures
// surface as invalid-params responses.
func (e *Engine) RegisterMethodWithSchema(name string, schemaJSON []byte, handler Handler) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return rlerrors.Wrap(rlerrors.KindInvalidParams, err, "schema for method %q", name)
	}
	c := jsonschema.NewCompiler()
	url := "jsonrpc://" + strings.ReplaceAll(name, "/", ".") + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return rlerrors.Wrap(rlerrors.KindInvalidParams, err, "schema for method %q", name)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return rlerrors.Wrap(rlerrors.KindInvalidParams, err, "schema for method %q", name)
	}
	e.mu.Lock()
	e.methods[name] = methodEntry{handler: handler, schema: schema}
	e.mu.Unlock()
	return nil
}

// UnregisterMethod removes a method from the dispatch table.
func (e *Engine) UnregisterMethod(name string) {
	e.mu.Lock()
	delete(e.methods, name)
	e.mu.Unlock()
}

// Methods returns the registered method names in unspecified order.
func (e *Engine) Methods() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.methods))
	for name := range e.methods {
		names = append(names, name)
	}
	return names
}

// Handle processes a raw JSON-RPC frame: a single request, a notification,
// or a batch. It returns the encoded response, or nil when the frame was a
// notification (or a batch of notifications) and no response is due.
func (e *Engine) Handle(ctx context.Context, raw []byte) []byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return e.handleBatch(ctx, trimmed)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeResponse(errorResponse(nil, &Error{Code: CodeParseError, Message: "Parse error"}))
	}
	resp := e.handleRequest(ctx, &req)
	if resp == nil {
		return nil
	}
	return encodeResponse(*resp)
}

// HandleRequest dispatches an already-parsed request. It returns nil for
// notifications.
func (e *Engine) HandleRequest(ctx context.Context, req *Request) *Response {
	return e.handleRequest(ctx, req)
}

func (e *Engine) handleBatch(ctx context.Context, raw []byte) []byte {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return encodeResponse(errorResponse(nil, &Error{Code: CodeParseError, Message: "Parse error"}))
	}
	if len(items) == 0 {
		return encodeResponse(errorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "Invalid Request"}))
	}

	responses := make([]Response, 0, len(items))
	for _, item := range items {
		var req Request
		if err := json.Unmarshal(item, &req); err != nil {
			responses = append(responses, errorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "Invalid Request"}))
			continue
		}
		if resp := e.handleRequest(ctx, &req); resp != nil {
			responses = append(responses, *resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	out, err := json.Marshal(responses)
	if err != nil {
		return encodeResponse(errorResponse(nil, &Error{Code: CodeInternalError, Message: "Internal error"}))
	}
	return out
}

func (e *Engine) handleRequest(ctx context.Context, req *Request) *Response {
	notification := req.ID == nil

	if req.JSONRPC != "2.0" || req.Method == "" {
		if notification {
			return nil
		}
		resp := errorResponse(req.ID, &Error{Code: CodeInvalidRequest, Message: "Invalid Request"})
		return &resp
	}

	e.mu.RLock()
	entry, ok := e.methods[req.Method]
	e.mu.RUnlock()
	if !ok {
		e.logger.Debug(ctx, "method not found", "method", req.Method)
		if notification {
			return nil
		}
		resp := errorResponse(req.ID, &Error{Code: CodeMethodNotFound, Message: "Method not found: " + req.Method})
		return &resp
	}

	if entry.schema != nil {
		if err := validateParams(entry.schema, req.Params); err != nil {
			if notification {
				return nil
			}
			resp := errorResponse(req.ID, &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: err.Error()})
			return &resp
		}
	}

	result, err := entry.handler(ctx, req.Params)
	if err != nil {
		e.logger.Error(ctx, "method failed", "method", req.Method, "error", err.Error())
		if notification {
			return nil
		}
		resp := errorResponse(req.ID, toError(err))
		return &resp
	}
	if notification {
		return nil
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func validateParams(schema *jsonschema.Schema, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage("null")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}

// toError maps an error into the JSON-RPC error model. Taxonomy kinds map
// per the propagation policy: invalid params to -32602, fatal to -32603,
// and the remaining kinds to the server-defined -32000 with a
// distinguishing data.kind.
func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var terr *rlerrors.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case rlerrors.KindInvalidParams:
			return &Error{Code: CodeInvalidParams, Message: terr.Message, Data: map[string]any{"kind": string(terr.Kind)}}
		case rlerrors.KindFatal:
			return &Error{Code: CodeInternalError, Message: terr.Message, Data: map[string]any{"kind": string(terr.Kind)}}
		default:
			return &Error{Code: CodeServerError, Message: terr.Message, Data: map[string]any{"kind": string(terr.Kind)}}
		}
	}
	return &Error{Code: CodeInternalError, Message: "Internal error"}
}

func errorResponse(id json.RawMessage, rpcErr *Error) Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return Response{JSONRPC: "2.0", Error: rpcErr, ID: id}
}

func encodeResponse(resp Response) []byte {
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(errorResponse(nil, &Error{Code: CodeInternalError, Message: "Internal error"}))
	}
	return out
}
