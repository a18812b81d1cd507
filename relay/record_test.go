package relay

import (
	"testing"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgTable(name string, op uint32, rowIDs ...string) dpi.SubscrMessageTable {
	rows := make([]dpi.SubscrMessageRow, len(rowIDs))
	for i, id := range rowIDs {
		rows[i].Operation = op
		rows[i].RowID, rows[i].RowIDLength = dpi.RefString(id)
	}
	t := dpi.SubscrMessageTable{Operation: op}
	t.Name, t.NameLength = dpi.RefString(name)
	t.Rows, t.NumRows = dpi.ArrayRef(rows)
	return t
}

func decode(t *testing.T, msg *dpi.SubscrMessage) *event.ChangeEvent {
	t.Helper()
	msg.DBName, msg.DBNameLength = dpi.RefString("ORCL")
	msg.Registered = 1
	ev, err := event.DecodeChange(msg, event.UTF8)
	require.NoError(t, err)
	return ev
}

func TestFromChangeEvent_RowsBecomeRecords(t *testing.T) {
	tables := []dpi.SubscrMessageTable{
		msgTable("ORDERS", dpi.OpInsert, "AAAA", "AAAB"),
		msgTable("CUSTOMERS", dpi.OpUpdate|dpi.OpAllRows),
	}
	txID := []byte{9, 8, 7}
	msg := &dpi.SubscrMessage{EventType: dpi.EventObjChange}
	msg.Tables, msg.NumTables = dpi.ArrayRef(tables)
	msg.TxID, msg.TxIDLength = dpi.Ref(txID)

	recs := FromChangeEvent(decode(t, msg), 5)
	require.Len(t, recs, 3)

	assert.Equal(t, "ORDERS", recs[0].Table)
	assert.Equal(t, "AAAA", recs[0].RowID)
	assert.Equal(t, "INSERT", recs[0].OpName)
	assert.Equal(t, "AAAB", recs[1].RowID)

	assert.Equal(t, "CUSTOMERS", recs[2].Table)
	assert.Empty(t, recs[2].RowID)
	assert.Equal(t, dpi.OpUpdate|dpi.OpAllRows, recs[2].Op)

	for _, r := range recs {
		assert.Equal(t, KindChange, r.Kind)
		assert.Equal(t, "ObjectChange", r.EventType)
		assert.Equal(t, "ORCL", r.Database)
		assert.Equal(t, uint64(5), r.ClientID)
		assert.Equal(t, txID, r.TransactionID)
		assert.NotZero(t, r.ReceivedAt)
	}

	txID[0] = 0
	assert.Equal(t, byte(9), recs[0].TransactionID[0], "transaction id is copied")
}

func TestFromChangeEvent_Queries(t *testing.T) {
	tables := []dpi.SubscrMessageTable{msgTable("T", dpi.OpDelete, "AAAC")}
	queries := []dpi.SubscrMessageQuery{{ID: 11, Operation: dpi.OpDelete}, {ID: 12, Operation: dpi.OpDelete}}
	queries[0].Tables, queries[0].NumTables = dpi.ArrayRef(tables)
	queries[1].Tables, queries[1].NumTables = dpi.ArrayRef(tables)
	msg := &dpi.SubscrMessage{EventType: dpi.EventQueryChange}
	msg.Queries, msg.NumQueries = dpi.ArrayRef(queries)

	recs := FromChangeEvent(decode(t, msg), 0)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(11), recs[0].QueryID)
	assert.Equal(t, uint64(12), recs[1].QueryID)
	assert.Equal(t, "AAAC", recs[1].RowID)
}

func TestFromChangeEvent_ControlEvent(t *testing.T) {
	recs := FromChangeEvent(decode(t, &dpi.SubscrMessage{EventType: dpi.EventDereg}), 0)
	require.Len(t, recs, 1)
	assert.Equal(t, "Deregister", recs[0].EventType)

	db, name := recs[0].Scope()
	assert.Equal(t, "ORCL", db)
	assert.Equal(t, "_events", name)
	assert.Equal(t, "_events", recs[0].Key())
}

func TestFromQueueEvent(t *testing.T) {
	msg := &dpi.SubscrMessage{EventType: dpi.EventAQ, Registered: 1}
	msg.QueueName, msg.QueueNameLength = dpi.RefString("ORDERS_Q")
	msg.ConsumerName, msg.ConsumerNameLength = dpi.RefString("BILLING")
	ev, err := event.DecodeQueue(msg, event.UTF8)
	require.NoError(t, err)

	rec := FromQueueEvent(ev, 3)
	assert.Equal(t, KindQueue, rec.Kind)
	assert.Equal(t, "MessageArrived", rec.EventType)
	assert.Equal(t, "BILLING", rec.Consumer)

	db, name := rec.Scope()
	assert.Equal(t, "aq", db)
	assert.Equal(t, "ORDERS_Q", name)
	assert.Equal(t, "ORDERS_Q", rec.Key())
}

func TestFromChangeEvent_DetachedFromMessage(t *testing.T) {
	name := []byte("ORDERS")
	rowID := []byte("AAAD")
	db := []byte("ORCL")

	rows := []dpi.SubscrMessageRow{{Operation: dpi.OpInsert}}
	rows[0].RowID, rows[0].RowIDLength = dpi.Ref(rowID)
	tables := []dpi.SubscrMessageTable{{Operation: dpi.OpInsert}}
	tables[0].Name, tables[0].NameLength = dpi.Ref(name)
	tables[0].Rows, tables[0].NumRows = dpi.ArrayRef(rows)

	msg := &dpi.SubscrMessage{EventType: dpi.EventObjChange}
	msg.DBName, msg.DBNameLength = dpi.Ref(db)
	msg.Tables, msg.NumTables = dpi.ArrayRef(tables)
	ev, err := event.DecodeChange(msg, event.UTF8)
	require.NoError(t, err)

	recs := FromChangeEvent(ev, 1)
	require.Len(t, recs, 1)

	copy(name, "XXXXXX")
	copy(rowID, "ZZZZ")
	copy(db, "NOPE")

	assert.Equal(t, "ORCL", recs[0].Database)
	assert.Equal(t, "ORDERS", recs[0].Table)
	assert.Equal(t, "AAAD", recs[0].RowID)
}
