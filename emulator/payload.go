package emulator

import (
	"encoding/hex"
	"strings"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/event"
)

// Payload is a notification as delivered to out-of-process recipients. The
// same value is lowered into a dpi.SubscrMessage for in-process callbacks.
type Payload struct {
	Subscription  string         `json:"subscription,omitempty"`
	EventType     string         `json:"event_type"`
	Database      string         `json:"database,omitempty"`
	Registered    bool           `json:"registered"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Tables        []PayloadTable `json:"tables,omitempty"`
	Queries       []PayloadQuery `json:"queries,omitempty"`
	Queue         string         `json:"queue,omitempty"`
	Consumer      string         `json:"consumer,omitempty"`
	Error         *PayloadError  `json:"error,omitempty"`
	kind          dpi.EventType
	txID          []byte
	errInfo       *dpi.ErrorInfo
}

type PayloadRow struct {
	Operation string `json:"operation"`
	RowID     string `json:"row_id"`
	op        uint32
}

type PayloadTable struct {
	Name      string       `json:"name"`
	Operation string       `json:"operation"`
	Rows      []PayloadRow `json:"rows,omitempty"`
	op        uint32
}

type PayloadQuery struct {
	ID        uint64         `json:"id"`
	Operation string         `json:"operation"`
	Tables    []PayloadTable `json:"tables"`
	op        uint32
}

type PayloadError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

var eventTypeNames = map[dpi.EventType]string{
	dpi.EventStartup:     "STARTUP",
	dpi.EventShutdown:    "SHUTDOWN",
	dpi.EventShutdownAny: "SHUTDOWN_ANY",
	dpi.EventDereg:       "DEREG",
	dpi.EventObjChange:   "OBJCHANGE",
	dpi.EventQueryChange: "QUERYCHANGE",
	dpi.EventAQ:          "AQ",
}

func newPayload(kind dpi.EventType, database string, registered bool) *Payload {
	return &Payload{
		EventType:  eventTypeNames[kind],
		Database:   database,
		Registered: registered,
		kind:       kind,
	}
}

func (p *Payload) setTransactionID(txID []byte) {
	p.txID = txID
	if len(txID) > 0 {
		p.TransactionID = hex.EncodeToString(txID)
	}
}

func (p *Payload) setError(info *dpi.ErrorInfo) {
	p.errInfo = info
	e := dpi.ErrorFromInfo(info)
	p.Error = &PayloadError{Code: e.Code, Message: e.Message}
}

func opName(op uint32) string {
	return event.OpCodeFromBits(op).String()
}

func finishTables(tables []PayloadTable) {
	for i := range tables {
		tables[i].Operation = opName(tables[i].op)
		for j := range tables[i].Rows {
			tables[i].Rows[j].Operation = opName(tables[i].Rows[j].op)
		}
	}
}

// finish fills the textual operation names after op bits are final
func (p *Payload) finish() {
	finishTables(p.Tables)
	for i := range p.Queries {
		p.Queries[i].Operation = opName(p.Queries[i].op)
		finishTables(p.Queries[i].Tables)
	}
}

// messageBuilder keeps every buffer a message points into alive and encodes
// strings into the server charset.
type messageBuilder struct {
	cs event.Charset
}

func (b messageBuilder) str(s string) (*byte, uint32) {
	if s == "" {
		return nil, 0
	}
	enc, err := b.cs.Encode(s)
	if err != nil {
		// unmappable characters are replaced rather than dropping the notification
		enc, _ = b.cs.Encode(strings.Map(func(r rune) rune {
			if r < 0x80 {
				return r
			}
			return '?'
		}, s))
	}
	return dpi.Ref(enc)
}

func (b messageBuilder) tables(in []PayloadTable) (*dpi.SubscrMessageTable, uint32) {
	if len(in) == 0 {
		return nil, 0
	}
	out := make([]dpi.SubscrMessageTable, len(in))
	for i, t := range in {
		out[i].Operation = t.op
		out[i].Name, out[i].NameLength = b.str(t.Name)
		if len(t.Rows) > 0 {
			rows := make([]dpi.SubscrMessageRow, len(t.Rows))
			for j, r := range t.Rows {
				rows[j].Operation = r.op
				rows[j].RowID, rows[j].RowIDLength = b.str(r.RowID)
			}
			out[i].Rows, out[i].NumRows = dpi.ArrayRef(rows)
		}
	}
	return dpi.ArrayRef(out)
}

// message lowers p into the raw record handed to callbacks
func (b messageBuilder) message(p *Payload) *dpi.SubscrMessage {
	msg := &dpi.SubscrMessage{EventType: p.kind, ErrorInfo: p.errInfo}
	if p.Registered {
		msg.Registered = 1
	}
	msg.DBName, msg.DBNameLength = b.str(p.Database)
	msg.Tables, msg.NumTables = b.tables(p.Tables)
	if len(p.Queries) > 0 {
		queries := make([]dpi.SubscrMessageQuery, len(p.Queries))
		for i, q := range p.Queries {
			queries[i].ID = q.ID
			queries[i].Operation = q.op
			queries[i].Tables, queries[i].NumTables = b.tables(q.Tables)
		}
		msg.Queries, msg.NumQueries = dpi.ArrayRef(queries)
	}
	msg.TxID, msg.TxIDLength = dpi.Ref(p.txID)
	msg.QueueName, msg.QueueNameLength = b.str(p.Queue)
	msg.ConsumerName, msg.ConsumerNameLength = b.str(p.Consumer)
	return msg
}
