// Package serialization provides the pluggable codecs used to store dashboard snapshots in cache tiers.
package serialization

import (
	"bytes"
	"fmt"
	"io"
)

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder reads one value from a stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one value to a stream.
type Encoder interface {
	Encode(v any) error
}

// Marshal encodes v into a byte slice with the given encoder factory.
func Marshal(newEncoder func(io.Writer) Encoder, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v with the given decoder factory.
func Unmarshal(newDecoder func(io.Reader) Decoder, data []byte, v any) error {
	if err := newDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}
