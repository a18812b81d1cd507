// Package encoding provides the serialization used by the relay journal and
// the msgpack transformer. All msgpack and zstd calls go through here.
//
// Thread Safety: every function is safe for concurrent use.
package encoding

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack. Struct fields use their msgpack tags,
// falling back to json tags.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data. When decoding into interface{}, strings
// stay Go strings rather than []byte.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// MarshalCompressed is Marshal followed by Compress
func MarshalCompressed(v interface{}) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Compress(data), nil
}

// UnmarshalCompressed is Decompress followed by Unmarshal
func UnmarshalCompressed(data []byte, v interface{}) error {
	raw, err := Decompress(data)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return Unmarshal(raw, v)
}
