package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/tedsai/complex-orders/internal/orders"
)

// Header names carried on every notification message.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// EnvelopeHeaders lets consumers route without decoding the body.
func EnvelopeHeaders(env orders.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventID, Value: []byte(env.EventID)},
	}
}

func DecodeEnvelope(b []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return env, fmt.Errorf("decode envelope: missing event_id or event_type")
	}
	return env, nil
}

// UnwrapPayload decodes an envelope payload into its concrete type.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
