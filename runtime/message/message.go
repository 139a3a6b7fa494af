// Package message defines the value-typed internal message exchanged between
// runtime components, together with its JSON-RPC 2.0 wire projection.
// Messages are transferred by move: only the receiving subsystem mutates a
// message (to set the receiver after routing or to attach a task id).
package message

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the message kinds understood by the router.
type Type string

const (
	TypeText         Type = "text"
	TypeTask         Type = "task"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"
	TypeQuery        Type = "query"
	TypeCommand      Type = "command"
	TypeJSONRPC      Type = "jsonrpc"
)

// Priority orders messages from low to urgent. The ordering is total.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// Clamp bounds p to the valid [PriorityLow, PriorityUrgent] range.
func (p Priority) Clamp() Priority {
	if p < PriorityLow {
		return PriorityLow
	}
	if p > PriorityUrgent {
		return PriorityUrgent
	}
	return p
}

// DefaultMethod is the JSON-RPC method used when a message carries no
// explicit method in its metadata.
const DefaultMethod = "message/send"

// metadataMethodKey is reserved in metadata for the JSON-RPC projection and
// is stripped from projected params.
const metadataMethodKey = "method"

// Message is the internal representation of a single exchange between
// agents. Content is an opaque structured document; components deserialize it
// lazily when they need a typed view.
type Message struct {
	// ID uniquely identifies the message.
	ID string
	// JSONRPCID carries the originating JSON-RPC request id, if any.
	JSONRPCID any
	// SenderID identifies the sending agent.
	SenderID string
	// SenderDID is the sender's decentralized identifier, if known.
	SenderDID string
	// ReceiverID identifies the receiving agent. Set by the router when the
	// message is addressed by capability.
	ReceiverID string
	// ReceiverDID is the receiver's decentralized identifier, populated from
	// the registry on dispatch.
	ReceiverDID string
	// Content is the opaque payload.
	Content any
	// Type classifies the message.
	Type Type
	// Priority orders delivery preferences.
	Priority Priority
	// Metadata carries free-form routing hints and protocol annotations.
	Metadata map[string]any
	// Timestamp records message creation.
	Timestamp time.Time
	// Encrypted reports whether Content is encrypted.
	Encrypted bool
	// Signature is the detached signature over the canonical request body.
	// The serving layer verifies it; a non-empty value means verified.
	Signature string
	// RequiresApproval flags the message for the HITL gate.
	RequiresApproval bool
	// TaskID links the message to an A2A task once accepted.
	TaskID string
	// CorrelationID threads a message into a larger exchange.
	CorrelationID string
}

// New creates a message with a fresh identifier, normal priority, and the
// current timestamp.
func New(sender, receiver string, content any, typ Type) *Message {
	return &Message{
		ID:         uuid.NewString(),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Type:       typ,
		Priority:   PriorityNormal,
		Metadata:   make(map[string]any),
		Timestamp:  time.Now().UTC(),
	}
}

// Method returns the JSON-RPC method carried in metadata, or DefaultMethod.
func (m *Message) Method() string {
	if m.Metadata != nil {
		if method, ok := m.Metadata[metadataMethodKey].(string); ok && method != "" {
			return method
		}
	}
	return DefaultMethod
}

// ToJSONRPC projects the message onto the shared A2A/JSON-RPC wire shape.
// The reserved "method" metadata key becomes the request method and is
// excluded from params metadata.
func (m *Message) ToJSONRPC() map[string]any {
	id := m.JSONRPCID
	if id == nil {
		id = m.ID
	}
	params := map[string]any{
		"sender_id":   m.SenderID,
		"receiver_id": m.ReceiverID,
		"content":     m.Content,
		"type":        string(m.Type),
		"priority":    int(m.Priority),
		"metadata":    withoutMethod(m.Metadata),
	}
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  m.Method(),
		"params":  params,
	}
}

// FromJSONRPC builds an internal message from a JSON-RPC request document.
// The request method is preserved under the reserved "method" metadata key.
func FromJSONRPC(doc map[string]any) *Message {
	params, _ := doc["params"].(map[string]any)
	metadata := map[string]any{}
	if md, ok := params["metadata"].(map[string]any); ok {
		for k, v := range md {
			metadata[k] = v
		}
	}
	method, _ := doc["method"].(string)
	if method == "" {
		method = DefaultMethod
	}
	metadata[metadataMethodKey] = method

	m := &Message{
		ID:        uuid.NewString(),
		JSONRPCID: doc["id"],
		Type:      TypeText,
		Priority:  PriorityNormal,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
	if s, ok := params["sender_id"].(string); ok {
		m.SenderID = s
	}
	if r, ok := params["receiver_id"].(string); ok {
		m.ReceiverID = r
	}
	m.Content = params["content"]
	if t, ok := params["type"].(string); ok && t != "" {
		m.Type = Type(t)
	}
	switch p := params["priority"].(type) {
	case float64:
		m.Priority = Priority(int(p)).Clamp()
	case int:
		m.Priority = Priority(p).Clamp()
	}
	return m
}

// ToMap flattens the message into the internal-protocol dictionary shape.
func (m *Message) ToMap() map[string]any {
	return map[string]any{
		"id":                m.ID,
		"jsonrpc_id":        m.JSONRPCID,
		"sender_id":         m.SenderID,
		"sender_did":        m.SenderDID,
		"receiver_id":       m.ReceiverID,
		"receiver_did":      m.ReceiverDID,
		"content":           m.Content,
		"message_type":      string(m.Type),
		"priority":          int(m.Priority),
		"metadata":          m.Metadata,
		"timestamp":         m.Timestamp.Format(time.RFC3339Nano),
		"encrypted":         m.Encrypted,
		"signature":         m.Signature,
		"requires_approval": m.RequiresApproval,
		"task_id":           m.TaskID,
		"correlation_id":    m.CorrelationID,
	}
}

func withoutMethod(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if k == metadataMethodKey {
			continue
		}
		out[k] = v
	}
	return out
}
