package emulator

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/hlc"
	"github.com/maxpert/cqnwatch/id"
	"github.com/maxpert/cqnwatch/notify"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Options configure a Server
type Options struct {
	// Path of the SQLite database; empty or ":memory:" for an in-memory one
	Path string
	// DatabaseName is reported in every change notification
	DatabaseName string
	// Charset of strings in notification messages, a server or IANA name
	Charset string
	// DeliveryBuffer is the number of notices queued per registration
	DeliveryBuffer int
	// InstanceID distinguishes transaction ids of servers sharing a database file
	InstanceID       uint64
	ReadSetCacheSize int
	Mailer           Mailer
	HTTPClient       *http.Client
}

func (o *Options) setDefaults() {
	if o.Path == "" {
		o.Path = ":memory:"
	}
	if o.DatabaseName == "" {
		o.DatabaseName = "CQNWATCH"
	}
	if o.Charset == "" {
		o.Charset = "AL32UTF8"
	}
	if o.DeliveryBuffer <= 0 {
		o.DeliveryBuffer = 256
	}
	if o.ReadSetCacheSize <= 0 {
		o.ReadSetCacheSize = 128
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
}

// Server is an embedded notification server. It is safe for concurrent use.
type Server struct {
	opts    Options
	charset event.Charset

	db   *sql.DB
	conn *sql.Conn

	// mu serializes statements on conn and guards capture and closed
	mu      sync.Mutex
	capture capture
	closed  bool

	hub      *notify.Hub
	out      *outbox
	clock    *hlc.Clock
	queryIDs id.Generator
	handles  id.Sequence

	registrations *xsync.MapOf[dpi.SubscrHandle, *registration]
	statements    *xsync.MapOf[dpi.StmtHandle, *statement]
	procedures    *xsync.MapOf[string, Procedure]
	readSets      *lru.Cache[string, []string]

	failNext atomic.Pointer[dpi.ErrorInfo]

	published chan struct{}
	wg        sync.WaitGroup // registration delivery loops
}

var _ dpi.Conn = (*Server)(nil)

// Open starts a server on the database at opts.Path
func Open(ctx context.Context, opts Options) (*Server, error) {
	opts.setDefaults()

	cs, err := event.LookupCharset(opts.Charset)
	if err != nil {
		return nil, err
	}

	readSets, err := lru.New[string, []string](opts.ReadSetCacheSize)
	if err != nil {
		return nil, err
	}

	dsn := opts.Path
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every statement goes through one connection: the hooks live on it and
	// an in-memory database exists only on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Server{
		opts:          opts,
		charset:       cs,
		db:            db,
		hub:           notify.NewHub(),
		out:           newOutbox(),
		clock:         hlc.NewClock(opts.InstanceID),
		registrations: xsync.NewMapOf[dpi.SubscrHandle, *registration](),
		statements:    xsync.NewMapOf[dpi.StmtHandle, *statement](),
		procedures:    xsync.NewMapOf[string, Procedure](),
		readSets:      readSets,
		published:     make(chan struct{}),
	}
	s.queryIDs = id.NewHLCGenerator(s.clock)

	s.conn, err = attachHooks(ctx, db, &s.capture)
	if err != nil {
		db.Close()
		return nil, err
	}

	if _, err := s.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+queueTable+` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL,
		consumer TEXT NOT NULL,
		payload BLOB,
		enqueued_at INTEGER NOT NULL
	)`); err != nil {
		s.conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create queue table: %w", err)
	}

	go s.publish()

	log.Info().
		Str("path", opts.Path).
		Str("database", opts.DatabaseName).
		Str("charset", cs.Name()).
		Msg("Notification server started")
	return s, nil
}

// Charset implements dpi.Conn
func (s *Server) Charset() string { return s.opts.Charset }

// DatabaseName is the name reported in change notifications
func (s *Server) DatabaseName() string { return s.opts.DatabaseName }

// Exec runs a statement and notifies registrations watching the tables its
// committed transactions changed. Notifications are delivered asynchronously
// in commit order.
func (s *Server) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServerClosed
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	commits := s.capture.take()
	if err == nil {
		if change, ok := ddlChange(query); ok {
			commits = append(commits, []notify.Change{change})
			s.readSets.Purge()
		}
	}

	// Stamped and queued under mu so transaction ids and delivery follow commit order.
	for _, changes := range commits {
		s.out.push(&notify.Notice{
			Kind:          notify.KindCommit,
			Database:      s.opts.DatabaseName,
			TransactionID: s.clock.Now().TransactionID(),
			Changes:       changes,
			At:            time.Now(),
		})
	}

	if err != nil {
		return nil, sqlError("Exec", "execute", err)
	}
	return res, nil
}

// RegisterProcedure makes fn the target of the stored procedure protocol for name
func (s *Server) RegisterProcedure(name string, fn Procedure) {
	s.procedures.Store(strings.ToUpper(name), fn)
}

// FailNextDelivery attaches an error record to the next notification sent,
// as the server does when delivery fails on its side.
func (s *Server) FailNextDelivery(code int32, message string) {
	s.failNext.Store(dpi.NewErrorInfo(code, "dpiSubscr_callback", "deliver", message))
}

// Registrations returns the number of live registrations
func (s *Server) Registrations() int {
	n := 0
	s.registrations.Range(func(_ dpi.SubscrHandle, r *registration) bool {
		if r.active.Load() {
			n++
		}
		return true
	})
	return n
}

// OpenStatements returns the number of statement handles not yet released
func (s *Server) OpenStatements() int {
	return s.statements.Size()
}

// Close stops every registration without notifying it and closes the database.
// It must not be called from a notification callback.
func (s *Server) Close() error {
	return s.close(false)
}

// Shutdown sends a Shutdown event to every change registration, waits for
// pending notifications to be delivered and closes the database.
// It must not be called from a notification callback.
func (s *Server) Shutdown() error {
	return s.close(true)
}

func (s *Server) close(announce bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if announce {
		s.out.push(&notify.Notice{Kind: notify.KindShutdown, Database: s.opts.DatabaseName, At: time.Now()})
	} else {
		s.registrations.Range(func(_ dpi.SubscrHandle, r *registration) bool {
			r.halt()
			return true
		})
	}
	s.mu.Unlock()

	s.out.close()
	<-s.published
	s.hub.Close()
	s.wg.Wait()

	detachHooks(s.conn)
	err := s.conn.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	log.Info().Bool("shutdown", announce).Msg("Notification server stopped")
	return err
}

// publish moves queued notices to the hub in order
func (s *Server) publish() {
	defer close(s.published)
	for {
		notices, ok := s.out.pop()
		if !ok {
			return
		}
		for _, n := range notices {
			s.hub.Publish(n)
		}
	}
}

// outbox is an unbounded FIFO; pushing never blocks, so statements can run
// inside notification callbacks.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*notify.Notice
	closed bool
}

func newOutbox() *outbox {
	o := &outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) push(n *notify.Notice) {
	o.mu.Lock()
	o.queue = append(o.queue, n)
	o.mu.Unlock()
	o.cond.Signal()
}

// pop waits for notices; it reports false once closed and drained
func (o *outbox) pop() ([]*notify.Notice, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.queue) == 0 {
		return nil, false
	}
	out := o.queue
	o.queue = nil
	return out, true
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cond.Broadcast()
}
