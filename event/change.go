package event

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/maxpert/cqnwatch/dpi"
)

// ChangeEventType is the kind of a database change notification.
type ChangeEventType uint8

const (
	ObjectChange ChangeEventType = iota + 1
	QueryResultChange
	Startup
	Shutdown
	ShutdownAny
	Deregister
)

func (t ChangeEventType) String() string {
	switch t {
	case ObjectChange:
		return "ObjectChange"
	case QueryResultChange:
		return "QueryResultChange"
	case Startup:
		return "Startup"
	case Shutdown:
		return "Shutdown"
	case ShutdownAny:
		return "ShutdownAny"
	case Deregister:
		return "Deregister"
	default:
		return fmt.Sprintf("ChangeEventType(%d)", uint8(t))
	}
}

func changeEventType(raw dpi.EventType) (ChangeEventType, error) {
	switch raw {
	case dpi.EventObjChange:
		return ObjectChange, nil
	case dpi.EventQueryChange:
		return QueryResultChange, nil
	case dpi.EventStartup:
		return Startup, nil
	case dpi.EventShutdown:
		return Shutdown, nil
	case dpi.EventShutdownAny:
		return ShutdownAny, nil
	case dpi.EventDereg:
		return Deregister, nil
	default:
		return 0, &UnsupportedEventKindError{Namespace: dpi.NamespaceDBChange, Kind: raw}
	}
}

// Row is a changed row.
type Row struct {
	operation OpCode
	rowID     Str
}

func (r *Row) Operation() OpCode { return r.operation }

// RowID is the server row identifier, borrowed from the message buffer.
func (r *Row) RowID() string { return r.rowID.String() }

// Table is a changed table. Rows is empty unless row ids were requested.
type Table struct {
	operation OpCode
	name      Str
	rows      []Row
}

func (t *Table) Operation() OpCode { return t.operation }
func (t *Table) Name() string      { return t.name.String() }
func (t *Table) Rows() []Row       { return t.rows }

// Query is a registered query whose result may have changed.
type Query struct {
	id        uint64
	operation OpCode
	tables    []Table
}

// ID is the identifier returned when the query was registered.
func (q *Query) ID() uint64        { return q.id }
func (q *Query) Operation() OpCode { return q.operation }
func (q *Query) Tables() []Table   { return q.tables }

// ChangeEvent is a decoded database change notification. Strings and the
// transaction id alias the message buffers and are valid only until the
// callback returns; use Clone to keep an event.
type ChangeEvent struct {
	eventType     ChangeEventType
	database      Str
	tables        []Table
	queries       []Query
	transactionID []byte
	registered    bool
}

func (e *ChangeEvent) EventType() ChangeEventType { return e.eventType }
func (e *ChangeEvent) Database() string           { return e.database.String() }
func (e *ChangeEvent) Tables() []Table            { return e.tables }
func (e *ChangeEvent) Queries() []Query           { return e.queries }
func (e *ChangeEvent) TransactionID() []byte      { return e.transactionID }

// Registered reports whether the registration is still active on the server.
func (e *ChangeEvent) Registered() bool { return e.registered }

// DecodeChange decodes a change notification. A message carrying an error
// record yields an *EmbeddedMessageError and no event.
func DecodeChange(msg *dpi.SubscrMessage, cs Charset) (*ChangeEvent, error) {
	if msg.ErrorInfo != nil {
		return nil, &EmbeddedMessageError{Err: dpi.ErrorFromInfo(msg.ErrorInfo)}
	}
	kind, err := changeEventType(msg.EventType)
	if err != nil {
		return nil, err
	}
	return &ChangeEvent{
		eventType:     kind,
		database:      cs.view(msg.DBName, msg.DBNameLength),
		tables:        decodeTables(dpi.MessageTables(msg.Tables, msg.NumTables), cs),
		queries:       decodeQueries(dpi.MessageQueries(msg.Queries, msg.NumQueries), cs),
		transactionID: dpi.Bytes(msg.TxID, msg.TxIDLength),
		registered:    msg.Registered != 0,
	}, nil
}

func decodeTables(raw []dpi.SubscrMessageTable, cs Charset) []Table {
	if len(raw) == 0 {
		return nil
	}
	tables := make([]Table, len(raw))
	for i := range raw {
		t := &raw[i]
		tables[i] = Table{
			operation: OpCodeFromBits(t.Operation),
			name:      cs.view(t.Name, t.NameLength),
			rows:      decodeRows(dpi.MessageRows(t.Rows, t.NumRows), cs),
		}
	}
	return tables
}

func decodeRows(raw []dpi.SubscrMessageRow, cs Charset) []Row {
	if len(raw) == 0 {
		return nil
	}
	rows := make([]Row, len(raw))
	for i := range raw {
		rows[i] = Row{
			operation: OpCodeFromBits(raw[i].Operation),
			rowID:     cs.view(raw[i].RowID, raw[i].RowIDLength),
		}
	}
	return rows
}

func decodeQueries(raw []dpi.SubscrMessageQuery, cs Charset) []Query {
	if len(raw) == 0 {
		return nil
	}
	queries := make([]Query, len(raw))
	for i := range raw {
		q := &raw[i]
		queries[i] = Query{
			id:        q.ID,
			operation: OpCodeFromBits(q.Operation),
			tables:    decodeTables(dpi.MessageTables(q.Tables, q.NumTables), cs),
		}
	}
	return queries
}

// Clone returns a deep copy that does not alias any message buffer.
func (e *ChangeEvent) Clone() *ChangeEvent {
	out := &ChangeEvent{
		eventType:     e.eventType,
		database:      e.database.Clone(),
		tables:        cloneTables(e.tables),
		registered:    e.registered,
		transactionID: bytes.Clone(e.transactionID),
	}
	if len(e.queries) > 0 {
		out.queries = make([]Query, len(e.queries))
		for i, q := range e.queries {
			out.queries[i] = Query{id: q.id, operation: q.operation, tables: cloneTables(q.tables)}
		}
	}
	return out
}

func cloneTables(in []Table) []Table {
	if len(in) == 0 {
		return nil
	}
	out := make([]Table, len(in))
	for i, t := range in {
		out[i] = Table{operation: t.operation, name: t.name.Clone()}
		if len(t.rows) > 0 {
			out[i].rows = make([]Row, len(t.rows))
			for j, r := range t.rows {
				out[i].rows[j] = Row{operation: r.operation, rowID: r.rowID.Clone()}
			}
		}
	}
	return out
}

func (e *ChangeEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s db=%q registered=%t", e.eventType, e.database, e.registered)
	if len(e.transactionID) > 0 {
		fmt.Fprintf(&b, " txid=%x", e.transactionID)
	}
	for _, t := range e.tables {
		fmt.Fprintf(&b, " table=%s[%s rows=%d]", t.Name(), t.operation, len(t.rows))
	}
	for _, q := range e.queries {
		fmt.Fprintf(&b, " query=%d[%s tables=%d]", q.id, q.operation, len(q.tables))
	}
	return b.String()
}
