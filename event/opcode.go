package event

import (
	"strings"

	"github.com/maxpert/cqnwatch/dpi"
)

// OpCode is a set of operations reported for a row, table or query.
type OpCode uint32

const (
	// OpAllOps is the empty set; as an operations filter it means "everything".
	OpAllOps  OpCode = OpCode(dpi.OpAllOps)
	OpAllRows OpCode = OpCode(dpi.OpAllRows)
	OpInsert  OpCode = OpCode(dpi.OpInsert)
	OpUpdate  OpCode = OpCode(dpi.OpUpdate)
	OpDelete  OpCode = OpCode(dpi.OpDelete)
	OpAlter   OpCode = OpCode(dpi.OpAlter)
	OpDrop    OpCode = OpCode(dpi.OpDrop)
	OpUnknown OpCode = OpCode(dpi.OpUnknown)
)

const knownOps = OpAllRows | OpInsert | OpUpdate | OpDelete | OpAlter | OpDrop | OpUnknown

var opNames = []struct {
	op   OpCode
	name string
}{
	{OpAllRows, "ALL_ROWS"},
	{OpInsert, "INSERT"},
	{OpUpdate, "UPDATE"},
	{OpDelete, "DELETE"},
	{OpAlter, "ALTER"},
	{OpDrop, "DROP"},
	{OpUnknown, "UNKNOWN"},
}

// OpCodeFromBits drops every bit this package does not know about. A newer
// server may report operations an older client has no name for.
func OpCodeFromBits(bits uint32) OpCode {
	return OpCode(bits) & knownOps
}

// Bits returns the raw representation.
func (o OpCode) Bits() uint32 { return uint32(o) }

// Contains reports whether every bit of other is set in o.
func (o OpCode) Contains(other OpCode) bool { return o&other == other }

// Intersects reports whether o and other share at least one bit.
func (o OpCode) Intersects(other OpCode) bool { return o&other != 0 }

// IsEmpty reports whether no operation bit is set.
func (o OpCode) IsEmpty() bool { return o == 0 }

func (o OpCode) String() string {
	if o == 0 {
		return "ALL_OPS"
	}
	parts := make([]string, 0, len(opNames))
	for _, n := range opNames {
		if o&n.op != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseOpCode accepts names as printed by String, case-insensitively.
func ParseOpCode(name string) (OpCode, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "ALL_OPS" || name == "" {
		return OpAllOps, true
	}
	for _, n := range opNames {
		if n.name == name {
			return n.op, true
		}
	}
	return 0, false
}
