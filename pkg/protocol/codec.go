package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingType       = errors.New("envelope type is required")
	ErrPayloadMismatch   = errors.New("payload does not match message type")
)

// Envelope is the typed frame carried over the bidirectional channel.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New wraps payload in an envelope stamped with the current time.
// A nil payload produces an envelope without a payload field.
func New(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// Known reports whether the receiver understands this envelope's type.
// Unknown types must be ignored, not rejected.
func (e Envelope) Known() bool {
	return IsKnown(e.Type)
}

// Decode unmarshals the payload into T. A missing payload yields T's zero value.
func Decode[T any](e Envelope) (T, error) {
	var v T
	if len(e.Payload) == 0 || bytes.Equal(e.Payload, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrPayloadMismatch, e.Type, err)
	}
	return v, nil
}

// Marshal encodes an envelope for the wire.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a wire frame. Unknown types decode successfully.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}
