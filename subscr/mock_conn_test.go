package subscr

import (
	"strings"
	"sync"

	"github.com/maxpert/cqnwatch/dpi"
)

// mockConn records every call and hands out handles. Statements whose SQL
// does not start with "select" fail to execute.
type mockConn struct {
	mu sync.Mutex

	charset      string
	subscribeErr error
	prepareErr   error
	queryIDErr   error
	releaseErr   error

	params       []dpi.SubscrCreateParams
	nextHandle   uint64
	openStmts    map[dpi.StmtHandle]string
	released     []dpi.SubscrHandle
	stmtReleases int
	nextQueryID  uint64
}

var _ dpi.Conn = (*mockConn)(nil)

func newMockConn() *mockConn {
	return &mockConn{
		charset:     "AL32UTF8",
		openStmts:   make(map[dpi.StmtHandle]string),
		nextQueryID: 100,
	}
}

func (m *mockConn) Charset() string { return m.charset }

func (m *mockConn) Subscribe(params *dpi.SubscrCreateParams) (dpi.SubscrHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return 0, m.subscribeErr
	}
	m.params = append(m.params, *params)
	m.nextHandle++
	return dpi.SubscrHandle(m.nextHandle), nil
}

func (m *mockConn) SubscrPrepareStmt(subscr dpi.SubscrHandle, sql string) (dpi.StmtHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prepareErr != nil {
		return 0, m.prepareErr
	}
	m.nextHandle++
	h := dpi.StmtHandle(m.nextHandle)
	m.openStmts[h] = sql
	return h, nil
}

func (m *mockConn) StmtExecute(stmt dpi.StmtHandle, mode dpi.ExecMode) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sql := m.openStmts[stmt]
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(sql)), "select") {
		return 0, dpi.ErrorFromInfo(dpi.NewErrorInfo(900, "dpiStmt_execute", "execute", "invalid SQL statement"))
	}
	return 1, nil
}

func (m *mockConn) StmtGetSubscrQueryID(stmt dpi.StmtHandle) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryIDErr != nil {
		return 0, m.queryIDErr
	}
	m.nextQueryID++
	return m.nextQueryID, nil
}

func (m *mockConn) StmtRelease(stmt dpi.StmtHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.openStmts, stmt)
	m.stmtReleases++
	return nil
}

func (m *mockConn) SubscrRelease(subscr dpi.SubscrHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, subscr)
	return m.releaseErr
}

func (m *mockConn) openStatements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.openStmts)
}

func (m *mockConn) lastParams() dpi.SubscrCreateParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params[len(m.params)-1]
}

// deliver invokes the registered callback the way the external system does.
func (m *mockConn) deliver(msg *dpi.SubscrMessage) {
	p := m.lastParams()
	p.Callback(p.CallbackContext, msg)
}

func changeMessage(kind dpi.EventType, tables ...dpi.SubscrMessageTable) *dpi.SubscrMessage {
	msg := &dpi.SubscrMessage{EventType: kind, Registered: 1}
	msg.DBName, msg.DBNameLength = dpi.RefString("ORCL")
	msg.Tables, msg.NumTables = dpi.ArrayRef(tables)
	return msg
}

func table(name string, op uint32, rowIDs ...string) dpi.SubscrMessageTable {
	t := dpi.SubscrMessageTable{Operation: op}
	t.Name, t.NameLength = dpi.RefString(name)
	rows := make([]dpi.SubscrMessageRow, len(rowIDs))
	for i, id := range rowIDs {
		rows[i].Operation = op
		rows[i].RowID, rows[i].RowIDLength = dpi.RefString(id)
	}
	t.Rows, t.NumRows = dpi.ArrayRef(rows)
	return t
}
