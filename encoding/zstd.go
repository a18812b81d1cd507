package encoding

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressThreshold is the smallest payload that gets compressed; smaller
// payloads are stored as is behind the frame header.
const CompressThreshold = 256

const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

var ErrBadFrame = errors.New("encoding: unknown frame header")

// EncodeAll/DecodeAll are safe for concurrent use on a shared coder.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Compress frames data with a one byte header and compresses it when it is
// at least CompressThreshold bytes.
func Compress(data []byte) []byte {
	if len(data) < CompressThreshold {
		out := make([]byte, 0, len(data)+1)
		out = append(out, frameRaw)
		return append(out, data...)
	}
	out := make([]byte, 1, len(data)/2+1)
	out[0] = frameZstd
	return encoder.EncodeAll(data, out)
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadFrame
	}
	switch data[0] {
	case frameRaw:
		return data[1:], nil
	case frameZstd:
		out, err := decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	default:
		return nil, ErrBadFrame
	}
}
