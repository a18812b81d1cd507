// Package transformer provides the relay.Transformer implementations: a
// Debezium-style JSON envelope and raw msgpack records.
package transformer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/relay"
	"github.com/rs/zerolog/log"
)

func init() {
	relay.RegisterTransformer("json", func() relay.Transformer {
		return NewEnvelopeTransformer()
	})
}

// EnvelopeTransformer renders records as a Debezium-style JSON envelope.
// Notifications carry no column values, so before/after are omitted and the
// changed row is identified by its row id.
type EnvelopeTransformer struct {
	connectorName string
}

func NewEnvelopeTransformer() *EnvelopeTransformer {
	return &EnvelopeTransformer{connectorName: "cqnwatch"}
}

type envelope struct {
	Payload envelopePayload `json:"payload"`
}

type envelopePayload struct {
	Op      string         `json:"op,omitempty"`
	Event   string         `json:"event"`
	RowID   string         `json:"rowid,omitempty"`
	QueryID uint64         `json:"query_id,omitempty"`
	Ops     string         `json:"operations,omitempty"`
	TsMs    int64          `json:"ts_ms"`
	Source  envelopeSource `json:"source"`
}

type envelopeSource struct {
	Connector string `json:"connector"`
	Client    uint64 `json:"client,omitempty"`
	Db        string `json:"db,omitempty"`
	Table     string `json:"table,omitempty"`
	Queue     string `json:"queue,omitempty"`
	Consumer  string `json:"consumer,omitempty"`
	TxID      string `json:"txId,omitempty"`
	Seq       uint64 `json:"seq"`
}

func (e *EnvelopeTransformer) Transform(rec relay.Record) ([]byte, error) {
	msg := envelope{Payload: envelopePayload{
		Op:      e.mapOperation(rec),
		Event:   rec.EventType,
		RowID:   rec.RowID,
		QueryID: rec.QueryID,
		Ops:     rec.OpName,
		TsMs:    rec.ReceivedAt,
		Source: envelopeSource{
			Connector: e.connectorName,
			Client:    rec.ClientID,
			Db:        rec.Database,
			Table:     rec.Table,
			Queue:     rec.Queue,
			Consumer:  rec.Consumer,
			Seq:       rec.Seq,
		},
	}}
	if len(rec.TransactionID) > 0 {
		msg.Payload.Source.TxID = hex.EncodeToString(rec.TransactionID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Tombstone is a null value, for Kafka log compaction
func (e *EnvelopeTransformer) Tombstone(key string) []byte {
	return nil
}

// mapOperation maps a record to a Debezium op code. Table-level records
// may carry several operations and map to "u"; DDL maps to "s".
func (e *EnvelopeTransformer) mapOperation(rec relay.Record) string {
	if rec.Kind != relay.KindChange || rec.Table == "" {
		return ""
	}
	ops := event.OpCode(rec.Op) &^ event.OpAllRows
	switch ops {
	case event.OpInsert:
		return "c"
	case event.OpUpdate:
		return "u"
	case event.OpDelete:
		return "d"
	}
	if ops.Intersects(event.OpAlter | event.OpDrop) {
		return "s"
	}
	if ops.IsEmpty() || ops.Contains(event.OpUnknown) {
		log.Warn().Str("ops", ops.String()).Uint64("seq", rec.Seq).Msg("Unmapped operation, defaulting to update")
	}
	return "u"
}
