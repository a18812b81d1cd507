// Package hlc issues transaction identifiers for the embedded notification
// server. Identifiers come from a hybrid logical clock: they follow wall time
// but stay strictly increasing when the wall clock stalls or steps back.
package hlc

import (
	"encoding/binary"
	"sync"
	"time"
)

// Clock is a hybrid logical clock owned by one server instance
type Clock struct {
	instanceID uint64
	wallTime   int64
	logical    int32
	lastMS     int64 // logical resets when this changes
	mu         sync.Mutex
}

// Timestamp is a point on the clock
type Timestamp struct {
	WallTime   int64
	Logical    int32
	InstanceID uint64
}

// LogicalBits is the number of bits reserved for the logical counter in a txn id.
// 16 bits = ~65k ids per millisecond.
const LogicalBits = 16

// LogicalMask masks the logical counter to 16 bits for ToTxnID
const LogicalMask = (1 << LogicalBits) - 1

// InstanceBits is the number of bits reserved for the instance id in a txn id.
const InstanceBits = 6

// InstanceMask masks the instance id to 6 bits for ToTxnID
const InstanceMask = (1 << InstanceBits) - 1

// TotalShiftBits is the total bits to shift wall time
const TotalShiftBits = InstanceBits + LogicalBits // 22 bits

// MaxLogical is the largest logical value before the clock waits for the next millisecond
const MaxLogical = LogicalMask

// NewClock creates a clock for the given server instance
func NewClock(instanceID uint64) *Clock {
	now := time.Now().UnixNano()
	return &Clock{
		instanceID: instanceID,
		wallTime:   now,
		lastMS:     now / 1_000_000,
	}
}

// Now returns a timestamp strictly after every timestamp previously returned
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalNow := time.Now().UnixNano()
	if physicalNow > c.wallTime {
		c.wallTime = physicalNow
	}

	if ms := c.wallTime / 1_000_000; ms > c.lastMS {
		c.lastMS = ms
		c.logical = 0
	}

	// Logical counter exhausted for this millisecond: spin until the next one
	// so ToTxnID never repeats.
	for c.logical >= MaxLogical {
		time.Sleep(100 * time.Microsecond)
		now := time.Now().UnixNano()
		if nowMS := now / 1_000_000; nowMS > c.lastMS {
			c.wallTime = now
			c.lastMS = nowMS
			c.logical = 0
		}
	}

	c.logical++
	return Timestamp{
		WallTime:   c.wallTime,
		Logical:    c.logical,
		InstanceID: c.instanceID,
	}
}

// Compare returns -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime < b.WallTime:
		return -1
	case a.WallTime > b.WallTime:
		return 1
	case a.Logical < b.Logical:
		return -1
	case a.Logical > b.Logical:
		return 1
	case a.InstanceID < b.InstanceID:
		return -1
	case a.InstanceID > b.InstanceID:
		return 1
	}
	return 0
}

// After returns true if a happened after b
func After(a, b Timestamp) bool {
	return Compare(a, b) > 0
}

// PhysicalTime returns the wall component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}

// ToTxnID packs a timestamp into a transaction id.
// Format: (physical_ms << 22) | (instance_id << 16) | logical
//
// Bit allocation (64 bits total):
//   - 42 bits for wall time in milliseconds (~139 years from epoch)
//   - 6 bits for instance id
//   - 16 bits for logical counter (~65k per ms)
func (t Timestamp) ToTxnID() uint64 {
	physicalMS := uint64(t.WallTime / 1_000_000)
	instance := t.InstanceID & InstanceMask
	logical := uint64(t.Logical) & LogicalMask
	return (physicalMS << TotalShiftBits) | (instance << LogicalBits) | logical
}

// TransactionID is ToTxnID as the 8 byte big-endian value carried in change
// notifications.
func (t Timestamp) TransactionID() []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), t.ToTxnID())
}
