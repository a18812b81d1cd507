package emulator

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/notify"
)

// DriverName is the SQLite driver used by the server
const DriverName = "sqlite3_cqnwatch"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// REGEXP lets watched queries use Oracle style REGEXP_LIKE filters
			return conn.RegisterFunc("regexp_like", regexpLike, true)
		},
	})
}

func regexpLike(text, pattern string) (bool, error) {
	return regexp.MatchString(pattern, text)
}

// internalTablePrefix marks server bookkeeping tables that never produce notifications
const internalTablePrefix = "__cqnwatch"

// capture collects row changes from the hooks of the server connection.
// Hooks run synchronously inside the statement that triggers them, on the
// goroutine holding Server.mu, so capture needs no locking of its own.
type capture struct {
	pending   []notify.Change
	committed [][]notify.Change
}

func (c *capture) onUpdate(op int, _ string, table string, rowID int64) {
	if strings.HasPrefix(table, internalTablePrefix) {
		return
	}
	var bit uint32
	switch op {
	case sqlite3.SQLITE_INSERT:
		bit = dpi.OpInsert
	case sqlite3.SQLITE_UPDATE:
		bit = dpi.OpUpdate
	case sqlite3.SQLITE_DELETE:
		bit = dpi.OpDelete
	default:
		bit = dpi.OpUnknown
	}
	c.pending = append(c.pending, notify.Change{Table: table, Op: bit, RowID: rowID})
}

func (c *capture) onCommit() int {
	if len(c.pending) > 0 {
		c.committed = append(c.committed, c.pending)
		c.pending = nil
	}
	return 0
}

func (c *capture) onRollback() {
	c.pending = nil
}

// take returns the transactions committed since the last call
func (c *capture) take() [][]notify.Change {
	out := c.committed
	c.committed = nil
	return out
}

// attachHooks registers the capture hooks on a dedicated connection
func attachHooks(ctx context.Context, db *sql.DB, c *capture) (*sql.Conn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	err = conn.Raw(func(driverConn interface{}) error {
		sqliteConn, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type: %T", driverConn)
		}
		sqliteConn.RegisterUpdateHook(c.onUpdate)
		sqliteConn.RegisterCommitHook(c.onCommit)
		sqliteConn.RegisterRollbackHook(c.onRollback)
		return nil
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func detachHooks(conn *sql.Conn) {
	conn.Raw(func(driverConn interface{}) error {
		if sqliteConn, ok := driverConn.(*sqlite3.SQLiteConn); ok {
			sqliteConn.RegisterUpdateHook(nil)
			sqliteConn.RegisterCommitHook(nil)
			sqliteConn.RegisterRollbackHook(nil)
		}
		return nil
	})
}

var ddlPattern = regexp.MustCompile("(?is)^\\s*(DROP|ALTER)\\s+TABLE\\s+(?:IF\\s+EXISTS\\s+)?[\"`\\[]?([A-Za-z_][\\w.]*)")

// ddlChange recognizes DROP TABLE and ALTER TABLE, which the update hook does
// not report.
func ddlChange(stmt string) (notify.Change, bool) {
	m := ddlPattern.FindStringSubmatch(stmt)
	if m == nil {
		return notify.Change{}, false
	}
	table := m[2]
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}
	if strings.HasPrefix(table, internalTablePrefix) {
		return notify.Change{}, false
	}
	op := dpi.OpAlter
	if strings.EqualFold(m[1], "DROP") {
		op = dpi.OpDrop
	}
	return notify.Change{Table: table, Op: op}, true
}
