// Package dpi describes the boundary to the external notification system.
//
// The types in this package mirror the fixed layout of the records that the
// external system hands to a registered callback: strings and byte sequences
// are a pointer plus a length, nested collections are a pointer to the first
// element plus a count. Nothing here owns memory that outlives a single
// callback invocation; decoders that need persistence must copy.
package dpi

import "unsafe"

// Namespace classifies what a registration watches.
type Namespace uint32

const (
	NamespaceAQ       Namespace = 1
	NamespaceDBChange Namespace = 2
)

func (n Namespace) String() string {
	switch n {
	case NamespaceAQ:
		return "aq"
	case NamespaceDBChange:
		return "dbchange"
	default:
		return "unknown"
	}
}

// Protocol selects how the external system delivers notifications.
type Protocol uint32

const (
	ProtoCallback Protocol = 0
	ProtoMail     Protocol = 1
	ProtoPLSQL    Protocol = 2
	ProtoHTTP     Protocol = 3
)

func (p Protocol) String() string {
	switch p {
	case ProtoCallback:
		return "callback"
	case ProtoMail:
		return "mail"
	case ProtoPLSQL:
		return "plsql"
	case ProtoHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// QoS bits understood by the external system.
const (
	QoSReliable   uint32 = 0x01
	QoSDeregNfy   uint32 = 0x02
	QoSRowIDs     uint32 = 0x04
	QoSQuery      uint32 = 0x08
	QoSBestEffort uint32 = 0x10
)

// Operation code bits. OpAllOps is the empty set and means "every operation".
const (
	OpAllOps  uint32 = 0x00
	OpAllRows uint32 = 0x01
	OpInsert  uint32 = 0x02
	OpUpdate  uint32 = 0x04
	OpDelete  uint32 = 0x08
	OpAlter   uint32 = 0x10
	OpDrop    uint32 = 0x20
	OpUnknown uint32 = 0x40
)

// EventType is the raw event-kind code carried by a message.
type EventType uint32

const (
	EventNone        EventType = 0
	EventStartup     EventType = 1
	EventShutdown    EventType = 2
	EventShutdownAny EventType = 3
	EventDereg       EventType = 5
	EventObjChange   EventType = 6
	EventQueryChange EventType = 7
	EventAQ          EventType = 100
)

// GroupingClass values.
const (
	GroupingClassNone uint8 = 0
	GroupingClassTime uint8 = 2
)

// GroupingType values.
const (
	GroupingTypeSummary uint8 = 1
	GroupingTypeLast    uint8 = 2
)

// ExecMode for StmtExecute.
type ExecMode uint32

const ExecDefault ExecMode = 0

// SubscrHandle is an opaque registration handle. The zero value is the null handle.
type SubscrHandle uint64

// StmtHandle is an opaque statement handle. The zero value is the null handle.
type StmtHandle uint64

// CallbackFunc is the single entry point the external system invokes for every
// notification. context is the token supplied at registration, returned unchanged.
type CallbackFunc func(context uintptr, msg *SubscrMessage)

// SubscrCreateParams is the registration request.
type SubscrCreateParams struct {
	Namespace       Namespace
	Protocol        Protocol
	QoS             uint32
	Operations      uint32
	PortNumber      uint32
	Timeout         uint32 // seconds, 0 = never
	Name            string
	Callback        CallbackFunc
	CallbackContext uintptr
	RecipientName   string
	IPAddress       string
	GroupingClass   uint8
	GroupingValue   uint32 // seconds when GroupingClass is GroupingClassTime
	GroupingType    uint8
}

// DefaultSubscrCreateParams returns the parameters the external system assumes
// when nothing is configured.
func DefaultSubscrCreateParams() SubscrCreateParams {
	return SubscrCreateParams{
		Namespace:    NamespaceDBChange,
		Protocol:     ProtoCallback,
		GroupingType: GroupingTypeSummary,
	}
}

// SubscrMessageRow is one row-level change.
type SubscrMessageRow struct {
	Operation   uint32
	RowID       *byte
	RowIDLength uint32
}

// SubscrMessageTable is one table-level change.
type SubscrMessageTable struct {
	Operation  uint32
	Name       *byte
	NameLength uint32
	Rows       *SubscrMessageRow
	NumRows    uint32
}

// SubscrMessageQuery is one query-level change.
type SubscrMessageQuery struct {
	ID        uint64
	Operation uint32
	Tables    *SubscrMessageTable
	NumTables uint32
}

// SubscrMessage is the raw notification record.
type SubscrMessage struct {
	EventType          EventType
	DBName             *byte
	DBNameLength       uint32
	Tables             *SubscrMessageTable
	NumTables          uint32
	Queries            *SubscrMessageQuery
	NumQueries         uint32
	ErrorInfo          *ErrorInfo
	TxID               *byte
	TxIDLength         uint32
	Registered         int32
	QueueName          *byte
	QueueNameLength    uint32
	ConsumerName       *byte
	ConsumerNameLength uint32
}

// Bytes returns a view of n bytes starting at p. It never copies.
func Bytes(p *byte, n uint32) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}

// MessageTables returns a view over the message's table array.
func MessageTables(p *SubscrMessageTable, n uint32) []SubscrMessageTable {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}

// MessageRows returns a view over a table's row array.
func MessageRows(p *SubscrMessageRow, n uint32) []SubscrMessageRow {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}

// MessageQueries returns a view over the message's query array.
func MessageQueries(p *SubscrMessageQuery, n uint32) []SubscrMessageQuery {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}
