package middleware

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/KunjShah01/RL-A2A/runtime/message"
	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

// DefaultMaxMessageSize bounds the encoded content size when none is
// configured (1 MiB).
const DefaultMaxMessageSize = 1 << 20

// Validator enforces message size and shape constraints at ingress.
type Validator struct {
	maxMessageSize int
}

// NewValidator creates a validator with the given maximum encoded content
// size in bytes. Zero or negative uses the default.
func NewValidator(maxMessageSize int) *Validator {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Validator{maxMessageSize: maxMessageSize}
}

// Validate checks the message: traceable types need a sender, the encoded
// content must fit the size budget, and string content is sanitized in
// place.
func (v *Validator) Validate(m *message.Message) error {
	if m == nil {
		return rlerrors.New(rlerrors.KindInvalidParams, "message is required")
	}
	if m.SenderID == "" && traceable(m.Type) {
		return rlerrors.New(rlerrors.KindInvalidParams, "sender_id is required for %s messages", m.Type)
	}

	if m.Content != nil {
		encoded, err := json.Marshal(m.Content)
		if err != nil {
			return rlerrors.Wrap(rlerrors.KindInvalidParams, err, "content is not encodable")
		}
		if len(encoded) > v.maxMessageSize {
			return rlerrors.New(rlerrors.KindInvalidParams, "content size %d exceeds limit %d", len(encoded), v.maxMessageSize)
		}
	}

	if s, ok := m.Content.(string); ok {
		m.Content = sanitize(s)
	}
	return nil
}

// traceable reports whether the message type requires a non-empty sender.
func traceable(t message.Type) bool {
	switch t {
	case message.TypeTask, message.TypeCommand, message.TypeQuery, message.TypeResponse:
		return true
	}
	return false
}

// sanitize strips control characters (except whitespace) from string
// content.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
