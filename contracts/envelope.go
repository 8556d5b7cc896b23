package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserved message types used by the heartbeat exchange. Application
// messages must not use them.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Envelope wraps every frame sent or received over the wire.
type Envelope struct {
	ID            string          `json:"id,omitempty"`
	Type          string          `json:"type"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// NewEnvelope creates an envelope with a generated ID, the current UTC
// timestamp, and the given payload marshaled to JSON.
func NewEnvelope(messageType string, payload any) (*Envelope, error) {
	var body json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("contracts: marshal payload for %q: %w", messageType, err)
		}
		body = data
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      messageType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   body,
	}, nil
}

// Stamp fills in any missing ID and timestamp. Returns the envelope for
// chaining.
func (e *Envelope) Stamp() *Envelope {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return e
}

// IsReserved reports whether the envelope carries a heartbeat frame.
func (e *Envelope) IsReserved() bool {
	return e.Type == TypePing || e.Type == TypePong
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("contracts: envelope %q has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("contracts: encode envelope %q: %w", e.Type, err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. A frame without a type is rejected.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("contracts: decode frame: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("contracts: frame missing type")
	}
	return &e, nil
}
