package emulator

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Row ids use the extended format of the server being emulated: 18 base64
// digits holding object(6) file(3) block(6) row(3).
const rowIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const (
	rowIDLength = 18
	fileNumber  = 1
	rowBits     = 18 // three digits
	blockBits   = 36 // six digits
)

// ObjectID is the data object number reported for a table
func ObjectID(table string) uint32 {
	return uint32(xxhash.Sum64String(strings.ToLower(table)) & (1<<32 - 1))
}

// EncodeRowID builds the row id reported for a SQLite rowid of table
func EncodeRowID(table string, rowID int64) string {
	var b [rowIDLength]byte
	putDigits(b[0:6], uint64(ObjectID(table)))
	putDigits(b[6:9], fileNumber)
	putDigits(b[9:15], uint64(rowID)>>rowBits)
	putDigits(b[15:18], uint64(rowID)&(1<<rowBits-1))
	return string(b[:])
}

// ParseRowID returns the object id and SQLite rowid encoded by EncodeRowID
func ParseRowID(s string) (objectID uint32, rowID int64, err error) {
	if len(s) != rowIDLength {
		return 0, 0, fmt.Errorf("row id %q: want %d characters", s, rowIDLength)
	}
	obj, err := digits(s[0:6])
	if err != nil {
		return 0, 0, err
	}
	block, err := digits(s[9:15])
	if err != nil {
		return 0, 0, err
	}
	row, err := digits(s[15:18])
	if err != nil {
		return 0, 0, err
	}
	return uint32(obj), int64(block<<rowBits | row), nil
}

func putDigits(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = rowIDAlphabet[v&63]
		v >>= 6
	}
}

func digits(s string) (uint64, error) {
	var v uint64
	for i := 0; i < len(s); i++ {
		d := strings.IndexByte(rowIDAlphabet, s[i])
		if d < 0 {
			return 0, fmt.Errorf("row id: invalid digit %q", s[i])
		}
		v = v<<6 | uint64(d)
	}
	return v, nil
}
