// Package protocol translates between the wire protocols the core speaks
// (JSON-RPC 2.0, A2A, internal) and routes inbound messages to the handler
// registered for their protocol. Conversions are pure functions over the
// message value; unknown fields ride along in metadata.
package protocol

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KunjShah01/RL-A2A/runtime/jsonrpc"
	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
	"github.com/KunjShah01/RL-A2A/runtime/telemetry"
)

// Type enumerates the protocols the router can detect and convert between.
type Type string

const (
	TypeJSONRPC   Type = "jsonrpc"
	TypeA2A       Type = "a2a"
	TypeMCP       Type = "mcp"
	TypeInternal  Type = "internal"
	TypeREST      Type = "rest"
	TypeWebSocket Type = "websocket"
)

// metadataProtocolKey is the metadata hint consulted first during protocol
// detection.
const metadataProtocolKey = "protocol"

type (
	// Handler processes a message converted to its protocol's wire shape.
	Handler interface {
		Handle(ctx context.Context, payload map[string]any) (any, error)
	}

	// HandlerFunc adapts a function to the Handler interface.
	HandlerFunc func(ctx context.Context, payload map[string]any) (any, error)

	// Router detects a message's protocol and routes it to the registered
	// handler. It is safe for concurrent use.
	Router struct {
		mu       sync.RWMutex
		handlers map[Type]Handler
		logger   telemetry.Logger
	}

	// Option configures a Router.
	Option func(*Router)
)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, payload map[string]any) (any, error) {
	return f(ctx, payload)
}

// WithLogger sets the router logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a protocol router with an empty handler table.
func NewRouter(opts ...Option) *Router {
	r := &Router{handlers: make(map[Type]Handler)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	return r
}

// RegisterHandler binds a handler to a protocol, replacing any previous
// binding.
func (r *Router) RegisterHandler(protocol Type, handler Handler) {
	r.mu.Lock()
	r.handlers[protocol] = handler
	r.mu.Unlock()
}

// HandlerFor returns the handler bound to the protocol, if any.
func (r *Router) HandlerFor(protocol Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[protocol]
	return h, ok
}

// Route converts the message for the target protocol (auto-detected when
// empty) and invokes the registered handler.
func (r *Router) Route(ctx context.Context, m *message.Message, target Type) (any, error) {
	if target == "" {
		target = Detect(m)
	}
	handler, ok := r.HandlerFor(target)
	if !ok {
		return nil, rlerrors.New(rlerrors.KindNoRoute, "no handler for protocol %q", target)
	}
	r.logger.Debug(ctx, "routing message", "message_id", m.ID, "protocol", string(target))
	return handler.Handle(ctx, Convert(m, target))
}

// Detect infers the source protocol of a message:
//
//	(a) an explicit metadata "protocol" key wins;
//	(b) a JSON-RPC id marks JSON-RPC;
//	(c) a task id marks A2A;
//	(d) anything else is internal.
func Detect(m *message.Message) Type {
	if m.Metadata != nil {
		if p, ok := m.Metadata[metadataProtocolKey].(string); ok {
			switch t := Type(p); t {
			case TypeJSONRPC, TypeA2A, TypeMCP, TypeInternal, TypeREST, TypeWebSocket:
				return t
			}
		}
	}
	if m.JSONRPCID != nil {
		return TypeJSONRPC
	}
	if m.TaskID != "" {
		return TypeA2A
	}
	return TypeInternal
}

// Convert projects the message onto the target protocol's wire shape. A2A
// and JSON-RPC share the request envelope; internal is the flat dictionary.
// Sender, receiver, content, type, and metadata (minus protocol-reserved
// keys) are preserved by every conversion.
func Convert(m *message.Message, target Type) map[string]any {
	switch target {
	case TypeJSONRPC, TypeA2A:
		return m.ToJSONRPC()
	default:
		return m.ToMap()
	}
}

// EngineHandler adapts a JSON-RPC engine to the protocol Handler interface,
// so JSON-RPC and A2A frames can be routed straight into the dispatch table.
type EngineHandler struct {
	engine *jsonrpc.Engine
}

// NewEngineHandler wraps the given JSON-RPC engine.
func NewEngineHandler(engine *jsonrpc.Engine) *EngineHandler {
	return &EngineHandler{engine: engine}
}

// Handle encodes the payload as a JSON-RPC frame and dispatches it through
// the engine, returning the decoded response document (nil for
// notifications).
func (h *EngineHandler) Handle(ctx context.Context, payload map[string]any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindInvalidParams, err, "encoding request frame")
	}
	out := h.engine.Handle(ctx, raw)
	if out == nil {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, rlerrors.Wrap(rlerrors.KindFatal, err, "decoding response frame")
	}
	return doc, nil
}
