package redispubsub

import (
	"encoding/json"
	"fmt"
)

// Codec converts messages to and from their textual wire form.
type Codec interface {
	Encode(v any) (string, error)
	Decode(s string) (any, error)
}

// JSONCodec is the default Codec. Decoded values use encoding/json's
// generic forms: map[string]any, []any, float64, string, bool and nil.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec) Decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeError reports an inbound message that could not be decoded.
type DecodeError struct {
	Channel string
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("redispubsub: decode message on %q: %v", e.Channel, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
