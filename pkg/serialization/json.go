package serialization

import (
	"encoding/json"
	"io"
)

// Json wraps the standard JSON stream codec.
type Json struct {
	dec *json.Decoder
	enc *json.Encoder
}

func (j *Json) Decode(v any) error {
	return j.dec.Decode(v)
}

func (j *Json) Encode(v any) error {
	return j.enc.Encode(v)
}

func JsonDecoder(r io.Reader) Decoder {
	return &Json{dec: json.NewDecoder(r)}
}

func JsonEncoder(w io.Writer) Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Json{enc: enc}
}
