package transformer

import (
	"github.com/maxpert/cqnwatch/encoding"
	"github.com/maxpert/cqnwatch/relay"
)

func init() {
	relay.RegisterTransformer("msgpack", func() relay.Transformer {
		return MsgpackTransformer{}
	})
}

// MsgpackTransformer publishes records as msgpack maps keyed like the JSON
// field names of relay.Record.
type MsgpackTransformer struct{}

func (MsgpackTransformer) Transform(rec relay.Record) ([]byte, error) {
	return encoding.Marshal(&rec)
}

func (MsgpackTransformer) Tombstone(key string) []byte {
	return nil
}
