package types

import (
	"time"

	"github.com/goccy/go-json"
)

// Frame is a single message on the wire. Every frame carries an event
// name; frames that expect a reply also carry a correlation id which
// the server echoes back in an "ack" frame.
type Frame struct {
	Event         string         `json:"event"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// DecodePayload unmarshals a frame payload into a typed value.
func DecodePayload(payload map[string]any, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// EncodePayload marshals a typed value into a frame payload map.
func EncodePayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
