package relay

import (
	"strings"
	"time"

	"github.com/maxpert/cqnwatch/event"
)

// FromChangeEvent flattens a change event into owned records: one per row
// when row ids were delivered, otherwise one per table. Events without
// tables yield a single control record.
func FromChangeEvent(ev *event.ChangeEvent, clientID uint64) []Record {
	base := Record{
		Kind:          KindChange,
		EventType:     ev.EventType().String(),
		Database:      strings.Clone(ev.Database()),
		TransactionID: append([]byte(nil), ev.TransactionID()...),
		ReceivedAt:    time.Now().UnixMilli(),
		ClientID:      clientID,
	}

	var out []Record
	switch ev.EventType() {
	case event.ObjectChange:
		out = appendTables(out, base, ev.Tables())
	case event.QueryResultChange:
		for _, q := range ev.Queries() {
			qb := base
			qb.QueryID = q.ID()
			out = appendTables(out, qb, q.Tables())
		}
	}
	if len(out) == 0 {
		out = append(out, base)
	}
	return out
}

func appendTables(out []Record, base Record, tables []event.Table) []Record {
	for i := range tables {
		t := &tables[i]
		rec := base
		rec.Table = strings.Clone(t.Name())
		if len(t.Rows()) == 0 {
			rec.Op, rec.OpName = t.Operation().Bits(), t.Operation().String()
			out = append(out, rec)
			continue
		}
		for j := range t.Rows() {
			row := &t.Rows()[j]
			r := rec
			r.Op, r.OpName = row.Operation().Bits(), row.Operation().String()
			r.RowID = strings.Clone(row.RowID())
			out = append(out, r)
		}
	}
	return out
}

// FromQueueEvent converts a queue notification to a record
func FromQueueEvent(ev *event.QueueEvent, clientID uint64) Record {
	return Record{
		Kind:       KindQueue,
		EventType:  ev.EventType().String(),
		Queue:      strings.Clone(ev.QueueName()),
		Consumer:   strings.Clone(ev.ConsumerName()),
		ReceivedAt: time.Now().UnixMilli(),
		ClientID:   clientID,
	}
}
