package emulator

import (
	"context"
	"strings"
	"sync"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/rs/zerolog/log"
)

type statement struct {
	handle dpi.StmtHandle
	reg    *registration
	sql    string

	mu       sync.Mutex
	executed bool
	queryID  uint64
}

// Subscribe implements dpi.Conn
func (s *Server) Subscribe(params *dpi.SubscrCreateParams) (dpi.SubscrHandle, error) {
	const fn, action = "dpiConn_subscribe", "register"

	if err := validateParams(params); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newError(CodeNotConnected, fn, action, "not connected to the server")
	}

	r := newRegistration(s, dpi.SubscrHandle(s.handles.NextID()), *params)
	notices, cancel := s.hub.Subscribe(r.accepts, notifyOptions(params, s.opts.DeliveryBuffer))
	s.registrations.Store(r.handle, r)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r.run(notices, cancel)
	}()

	log.Debug().
		Uint64("handle", uint64(r.handle)).
		Str("name", params.Name).
		Str("namespace", params.Namespace.String()).
		Str("protocol", params.Protocol.String()).
		Msg("Registration created")
	return r.handle, nil
}

func validateParams(p *dpi.SubscrCreateParams) error {
	const fn, action = "dpiConn_subscribe", "validate"

	switch p.Namespace {
	case dpi.NamespaceDBChange, dpi.NamespaceAQ:
	default:
		return newError(CodeInvalidParameter, fn, action, "invalid namespace")
	}

	switch p.Protocol {
	case dpi.ProtoCallback:
		if p.Callback == nil {
			return newError(CodeInvalidParameter, fn, action, "callback protocol requires a callback")
		}
	case dpi.ProtoMail, dpi.ProtoPLSQL, dpi.ProtoHTTP:
		if p.RecipientName == "" {
			return newError(CodeInvalidParameter, fn, action, "recipient name is required for "+p.Protocol.String())
		}
	default:
		return newError(CodeInvalidParameter, fn, action, "invalid protocol")
	}

	if p.Namespace == dpi.NamespaceAQ && p.Name == "" {
		return newError(CodeInvalidParameter, fn, action, "queue registrations are named QUEUE or QUEUE:CONSUMER")
	}
	if p.GroupingClass != dpi.GroupingClassNone && p.GroupingClass != dpi.GroupingClassTime {
		return newError(CodeInvalidParameter, fn, action, "invalid grouping class")
	}
	if p.GroupingClass == dpi.GroupingClassTime &&
		p.GroupingType != dpi.GroupingTypeSummary && p.GroupingType != dpi.GroupingTypeLast {
		return newError(CodeInvalidParameter, fn, action, "invalid grouping type")
	}
	return nil
}

// SubscrPrepareStmt implements dpi.Conn
func (s *Server) SubscrPrepareStmt(subscr dpi.SubscrHandle, sql string) (dpi.StmtHandle, error) {
	const fn, action = "dpiSubscr_prepareStmt", "prepare"

	r, ok := s.registrations.Load(subscr)
	if !ok {
		return 0, newError(CodeRegistrationMissing, fn, action, "Specified registration id does not exist")
	}
	if r.namespace() != dpi.NamespaceDBChange {
		return 0, newError(CodeInvalidParameter, fn, action, "queries can only be registered for database change notification")
	}
	if strings.TrimSpace(sql) == "" {
		return 0, newError(CodeInvalidSQL, fn, action, "invalid SQL statement")
	}

	st := &statement{handle: dpi.StmtHandle(s.handles.NextID()), reg: r, sql: sql}
	s.statements.Store(st.handle, st)
	telemetry.ServerOpenStatements.Inc()
	return st.handle, nil
}

// StmtExecute implements dpi.Conn. Executing a statement prepared on a
// registration attaches a watch on every table the statement reads.
func (s *Server) StmtExecute(stmt dpi.StmtHandle, mode dpi.ExecMode) (uint32, error) {
	const fn, action = "dpiStmt_execute", "execute"

	st, ok := s.statements.Load(stmt)
	if !ok {
		return 0, newError(CodeInvalidHandle, fn, action, "invalid statement handle")
	}

	tables, columns, err := s.analyze(st.sql)
	if err != nil {
		return 0, err
	}
	if len(tables) == 0 {
		return 0, newError(CodeUnsupportedQuery, fn, action, "query does not reference any table")
	}

	queryID := s.queryIDs.NextID()
	st.reg.watch(queryID, tables)

	st.mu.Lock()
	st.executed = true
	st.queryID = queryID
	st.mu.Unlock()

	log.Debug().
		Uint64("handle", uint64(st.reg.handle)).
		Uint64("query_id", queryID).
		Strs("tables", tables).
		Msg("Watch attached")
	return columns, nil
}

// analyze finds the read set of query and runs it, discarding its rows
func (s *Server) analyze(query string) ([]string, uint32, error) {
	const fn, action = "dpiStmt_execute", "execute"
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, newError(CodeNotConnected, fn, action, "not connected to the server")
	}

	tables, cached := s.readSets.Get(query)
	if !cached {
		var err error
		tables, err = discoverReadSet(ctx, s.conn, query)
		if err != nil {
			return nil, 0, sqlError(fn, action, err)
		}
		s.readSets.Add(query, tables)
	}

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, sqlError(fn, action, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, 0, sqlError(fn, action, err)
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return nil, 0, sqlError(fn, action, err)
	}
	return tables, uint32(len(cols)), nil
}

// StmtGetSubscrQueryID implements dpi.Conn
func (s *Server) StmtGetSubscrQueryID(stmt dpi.StmtHandle) (uint64, error) {
	const fn, action = "dpiStmt_getSubscrQueryId", "get query id"

	st, ok := s.statements.Load(stmt)
	if !ok {
		return 0, newError(CodeInvalidHandle, fn, action, "invalid statement handle")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.executed {
		return 0, newError(CodeInvalidHandle, fn, action, "statement has not been executed")
	}
	return st.queryID, nil
}

// StmtRelease implements dpi.Conn
func (s *Server) StmtRelease(stmt dpi.StmtHandle) error {
	if _, ok := s.statements.LoadAndDelete(stmt); !ok {
		return newError(CodeInvalidHandle, "dpiStmt_release", "release", "invalid statement handle")
	}
	telemetry.ServerOpenStatements.Dec()
	return nil
}

// SubscrRelease implements dpi.Conn. The registration stops receiving
// notices immediately; a callback already running is not waited for.
func (s *Server) SubscrRelease(subscr dpi.SubscrHandle) error {
	r, ok := s.registrations.LoadAndDelete(subscr)
	if !ok {
		return newError(CodeRegistrationMissing, "dpiSubscr_release", "release", "Specified registration id does not exist")
	}
	r.halt()
	log.Debug().Uint64("handle", uint64(subscr)).Msg("Registration released")
	return nil
}
