package kafka

import (
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// Headers set on every event message so consumers can filter without
// decoding the body.
const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

func DecodeEnvelope(b []byte, out any) error {
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}

// DecodePayload decodes an envelope payload into T.
func DecodePayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// HeaderValue returns the first header named key, or "" when absent.
func HeaderValue(m kafkago.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
