package relay

// Record kinds
const (
	KindChange = "change"
	KindQueue  = "queue"
)

// Record is one relayed unit: a changed row, a changed table without row
// ids, a queue arrival or a control event (shutdown, deregister).
type Record struct {
	Seq           uint64 `json:"seq"`
	Kind          string `json:"kind"`
	EventType     string `json:"event"`
	Database      string `json:"db,omitempty"`
	Table         string `json:"tbl,omitempty"`
	Op            uint32 `json:"op,omitempty"`
	OpName        string `json:"op_name,omitempty"`
	RowID         string `json:"rowid,omitempty"`
	QueryID       uint64 `json:"query_id,omitempty"`
	Queue         string `json:"queue,omitempty"`
	Consumer      string `json:"consumer,omitempty"`
	TransactionID []byte `json:"txn,omitempty"`
	ReceivedAt    int64  `json:"ts"` // unix ms
	ClientID      uint64 `json:"client,omitempty"`
}

// Scope is the (database, object) pair records are filtered and routed by.
// Queue records are scoped to the queue; control events to "_events".
func (r *Record) Scope() (string, string) {
	if r.Kind == KindQueue {
		return "aq", r.Queue
	}
	if r.Table == "" {
		return r.Database, "_events"
	}
	return r.Database, r.Table
}

// Key is the partition key: the row id when known, otherwise the object name
func (r *Record) Key() string {
	if r.RowID != "" {
		return r.RowID
	}
	_, name := r.Scope()
	return name
}

// Sink represents a destination for records (NATS, Kafka)
type Sink interface {
	// Publish sends a record to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts records to sink-specific formats
type Transformer interface {
	// Transform converts a record to bytes for publishing
	Transform(rec Record) ([]byte, error)
	// Tombstone creates a delete marker for the given key
	Tombstone(key string) []byte
}

// Filter determines whether a record should be published
type Filter interface {
	Match(database, table string) bool
}
