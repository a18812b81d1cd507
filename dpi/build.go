package dpi

import (
	"math"
	"unsafe"
)

// Ref exposes b as a pointer/length pair for embedding in a message record.
// The caller must keep b unmodified until every consumer of the record returns.
func Ref(b []byte) (*byte, uint32) {
	if len(b) == 0 {
		return nil, 0
	}
	return &b[0], clampLen(len(b))
}

// RefString is Ref for strings.
func RefString(s string) (*byte, uint32) {
	if len(s) == 0 {
		return nil, 0
	}
	return unsafe.StringData(s), clampLen(len(s))
}

// ArrayRef exposes a slice as a pointer to its first element plus a count.
func ArrayRef[T any](s []T) (*T, uint32) {
	if len(s) == 0 {
		return nil, 0
	}
	return &s[0], clampLen(len(s))
}

func clampLen(n int) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
