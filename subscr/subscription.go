package subscr

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

var (
	active     = xsync.NewMapOf[uint64, *Subscription]()
	lastSerial atomic.Uint64
)

// Subscription is a live registration. It borrows the connection it was
// submitted on and must be closed before that connection is.
type Subscription struct {
	serial    uint64
	conn      dpi.Conn
	handle    dpi.SubscrHandle
	box       *callbackBox // nil for out-of-process protocols
	namespace dpi.Namespace
	protocol  dpi.Protocol
	recipient string
	name      string
	created   time.Time
	closed    atomic.Bool

	mu       sync.Mutex
	queryIDs []uint64
}

func newSubscription(conn dpi.Conn, handle dpi.SubscrHandle, box *callbackBox, p Protocol, name string) *Subscription {
	s := &Subscription{
		serial:    lastSerial.Add(1),
		conn:      conn,
		handle:    handle,
		box:       box,
		namespace: p.namespace,
		protocol:  p.kind,
		recipient: p.recipient,
		name:      name,
		created:   time.Now(),
	}
	active.Store(s.serial, s)
	return s
}

// SetQuery registers sql for result change notifications and returns the
// query id the server will report it under. The statement is executed to
// establish the watch; its rows are discarded.
func (s *Subscription) SetQuery(sql string) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrSubscriptionClosed
	}

	id, err := s.registerQuery(sql)
	if err != nil {
		telemetry.QueriesRegisteredTotal.With("failed").Inc()
		return 0, err
	}
	telemetry.QueriesRegisteredTotal.With("success").Inc()

	s.mu.Lock()
	s.queryIDs = append(s.queryIDs, id)
	s.mu.Unlock()

	log.Debug().Uint64("query_id", id).Str("sql", sql).Msg("Query registered")
	return id, nil
}

func (s *Subscription) registerQuery(sql string) (uint64, error) {
	stmt, err := s.conn.SubscrPrepareStmt(s.handle, sql)
	if err != nil {
		return 0, fmt.Errorf("prepare query: %w", err)
	}
	defer func() {
		if err := s.conn.StmtRelease(stmt); err != nil {
			log.Warn().Err(err).Uint64("stmt", uint64(stmt)).Msg("Failed to release statement")
		}
	}()

	if _, err := s.conn.StmtExecute(stmt, dpi.ExecDefault); err != nil {
		return 0, fmt.Errorf("execute query: %w", err)
	}

	id, err := s.conn.StmtGetSubscrQueryID(stmt)
	if err != nil {
		return 0, fmt.Errorf("get query id: %w", err)
	}
	return id, nil
}

// Close revokes the registration and then releases the callback. The
// callback is released even if revocation fails. Closing twice is a no-op.
//
// Close does not wait for a callback that is already running; it may be
// called from inside the callback itself.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.conn.SubscrRelease(s.handle)
	if s.box != nil {
		s.box.release()
	}
	active.Delete(s.serial)
	telemetry.ActiveSubscriptions.Dec()

	if err != nil {
		log.Warn().Err(err).Str("name", s.name).Msg("Failed to revoke subscription")
		return fmt.Errorf("release subscription: %w", err)
	}
	log.Debug().Str("name", s.name).Msg("Subscription closed")
	return nil
}

func (s *Subscription) Handle() dpi.SubscrHandle { return s.handle }
func (s *Subscription) Name() string             { return s.name }
func (s *Subscription) Namespace() dpi.Namespace { return s.namespace }
func (s *Subscription) Protocol() dpi.Protocol   { return s.protocol }
func (s *Subscription) Closed() bool             { return s.closed.Load() }

// QueryIDs returns the ids of every query registered so far.
func (s *Subscription) QueryIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queryIDs)
}

// Deregistered reports whether a Deregister event has been delivered.
func (s *Subscription) Deregistered() bool {
	return s.box != nil && s.box.deregistered.Load()
}

// Delivered returns the number of notifications handed to the callback.
func (s *Subscription) Delivered() uint64 {
	if s.box == nil {
		return 0
	}
	return s.box.delivered.Load()
}

// Info is a point in time description of a subscription.
type Info struct {
	Name         string    `json:"name"`
	Namespace    string    `json:"namespace"`
	Protocol     string    `json:"protocol"`
	Recipient    string    `json:"recipient,omitempty"`
	Handle       uint64    `json:"handle"`
	QueryIDs     []uint64  `json:"query_ids"`
	Delivered    uint64    `json:"delivered"`
	Deregistered bool      `json:"deregistered"`
	Created      time.Time `json:"created"`
}

func (s *Subscription) Info() Info {
	return Info{
		Name:         s.name,
		Namespace:    s.namespace.String(),
		Protocol:     s.protocol.String(),
		Recipient:    s.recipient,
		Handle:       uint64(s.handle),
		QueryIDs:     s.QueryIDs(),
		Delivered:    s.Delivered(),
		Deregistered: s.Deregistered(),
		Created:      s.created,
	}
}

// Active describes every subscription that has not been closed, oldest first.
func Active() []Info {
	var serials []uint64
	subs := make(map[uint64]*Subscription)
	active.Range(func(serial uint64, s *Subscription) bool {
		serials = append(serials, serial)
		subs[serial] = s
		return true
	})
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })

	out := make([]Info, 0, len(serials))
	for _, serial := range serials {
		out = append(out, subs[serial].Info())
	}
	return out
}
