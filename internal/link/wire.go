package link

import (
	"encoding/json"
	"fmt"
)

// Well-known message type values used by all SHQ controllers.
const (
	// TypeResponse is a successful reply to a command.
	TypeResponse = "response"

	// TypeError is a failed reply to a command.
	TypeError = "error"

	// TypeStatus is an unsolicited state broadcast.
	TypeStatus = "status"

	// TypeMetrics is an unsolicited metrics broadcast (kiosk displays).
	TypeMetrics = "metrics"

	// TypeNoop is a keepalive in either direction. Carries no payload.
	TypeNoop = "noop"
)

// Class partitions inbound messages by how the multiplexer routes them.
type Class int

const (
	// ClassUnknown covers message types the multiplexer does not route.
	// They still count as traffic for liveness purposes.
	ClassUnknown Class = iota

	// ClassResponse messages answer the outstanding command.
	ClassResponse

	// ClassBroadcast messages are unsolicited state or metrics updates.
	ClassBroadcast

	// ClassKeepalive messages only prove the peer is alive.
	ClassKeepalive
)

// Message is a single JSON frame exchanged with a controller.
//
// Controllers use loosely-schemed objects discriminated by a "type" field,
// so a map keeps the layer agnostic of each device's vocabulary. Device
// adapters (internal/devices) build and interpret the payloads.
type Message map[string]any

// NewNoop returns a keepalive message.
func NewNoop() Message {
	return Message{"type": TypeNoop}
}

// Type returns the message's "type" discriminator, or "" when absent.
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// Class reports how the multiplexer routes this message.
func (m Message) Class() Class {
	switch m.Type() {
	case TypeResponse, TypeError:
		return ClassResponse
	case TypeStatus, TypeMetrics:
		return ClassBroadcast
	case TypeNoop:
		return ClassKeepalive
	default:
		return ClassUnknown
	}
}

// Success reports whether a response-class message indicates success.
// Error-typed messages are never successful regardless of payload.
func (m Message) Success() bool {
	if m.Type() == TypeError {
		return false
	}
	if ok, present := m["success"].(bool); present {
		return ok
	}
	// Responses without an explicit success flag are treated as successful;
	// controllers report failures via type "error" or success:false.
	return m.Type() == TypeResponse
}

// Str returns the message's string field by key, or "" when absent.
func (m Message) Str(key string) string {
	s, _ := m[key].(string)
	return s
}

// Float returns the message's numeric field by key. JSON numbers decode as
// float64, so this is the natural accessor for controller payloads.
func (m Message) Float(key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}

// Object returns a nested object field by key, or nil when absent.
func (m Message) Object(key string) Message {
	obj, _ := m[key].(map[string]any)
	return obj
}

// Encode serializes the message for the wire.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return data, nil
}

// Decode parses a wire frame into a Message.
// Frames that are not JSON objects return ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: null frame", ErrMalformedMessage)
	}
	return m, nil
}
