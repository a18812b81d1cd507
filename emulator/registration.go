package emulator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/notify"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/rs/zerolog/log"
)

type registration struct {
	server  *Server
	handle  dpi.SubscrHandle
	params  dpi.SubscrCreateParams
	builder messageBuilder

	// watch state, read by the hub filter on the publisher goroutine
	mu      sync.RWMutex
	tables  map[string]struct{}
	queries map[uint64][]string

	queue, consumer string // queue registrations

	active    atomic.Bool
	delivered atomic.Uint64
	stop      chan struct{}
	stopOnce  sync.Once
}

func newRegistration(s *Server, handle dpi.SubscrHandle, params dpi.SubscrCreateParams) *registration {
	r := &registration{
		server:  s,
		handle:  handle,
		params:  params,
		builder: messageBuilder{cs: s.charset},
		tables:  make(map[string]struct{}),
		queries: make(map[uint64][]string),
		stop:    make(chan struct{}),
	}
	if params.Namespace == dpi.NamespaceAQ {
		r.queue, r.consumer, _ = strings.Cut(params.Name, ":")
	}
	r.active.Store(true)
	return r
}

func notifyOptions(p *dpi.SubscrCreateParams, buffer int) notify.Options {
	return notify.Options{Buffer: buffer, Lossy: p.QoS&dpi.QoSBestEffort != 0}
}

func (r *registration) namespace() dpi.Namespace { return r.params.Namespace }

func (r *registration) qos(bit uint32) bool { return r.params.QoS&bit != 0 }

// watch attaches tables read by a registered query. Without the query QoS
// the tables are watched at table level.
func (r *registration) watch(queryID uint64, tables []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.qos(dpi.QoSQuery) {
		r.queries[queryID] = tables
		return
	}
	for _, t := range tables {
		r.tables[strings.ToLower(t)] = struct{}{}
	}
}

func (r *registration) watching(table string) bool {
	table = strings.ToLower(table)
	if _, ok := r.tables[table]; ok {
		return true
	}
	for _, tables := range r.queries {
		for _, t := range tables {
			if strings.EqualFold(t, table) {
				return true
			}
		}
	}
	return false
}

// accepts is the hub filter
func (r *registration) accepts(n *notify.Notice) bool {
	if !r.active.Load() {
		return false
	}
	switch n.Kind {
	case notify.KindShutdown:
		return r.namespace() == dpi.NamespaceDBChange
	case notify.KindEnqueue:
		return r.namespace() == dpi.NamespaceAQ &&
			strings.EqualFold(r.queue, n.Queue) &&
			(r.consumer == "" || strings.EqualFold(r.consumer, n.Consumer))
	case notify.KindCommit:
		if r.namespace() != dpi.NamespaceDBChange {
			return false
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, c := range n.Changes {
			if r.watching(c.Table) {
				return true
			}
		}
	}
	return false
}

func (r *registration) halt() {
	r.active.Store(false)
	r.stopOnce.Do(func() { close(r.stop) })
}

// run is the delivery loop. Timeout and grouping timers are owned here.
func (r *registration) run(notices <-chan *notify.Notice, cancel func()) {
	defer cancel()

	var expire <-chan time.Time
	if r.params.Timeout > 0 {
		t := time.NewTimer(time.Duration(r.params.Timeout) * time.Second)
		defer t.Stop()
		expire = t.C
	}

	grouped := r.params.GroupingClass == dpi.GroupingClassTime && r.params.GroupingValue > 0
	var window *time.Timer
	var flush <-chan time.Time
	var batch []*notify.Notice
	defer func() {
		if window != nil {
			window.Stop()
		}
	}()

	for {
		select {
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Kind == notify.KindShutdown {
				r.deliver(batch)
				r.send(newPayload(dpi.EventShutdown, r.server.opts.DatabaseName, false))
				r.active.Store(false)
				return
			}
			if grouped {
				batch = append(batch, n)
				if flush == nil {
					window = time.NewTimer(time.Duration(r.params.GroupingValue) * time.Second)
					flush = window.C
				}
				continue
			}
			if r.deliver([]*notify.Notice{n}) && r.qos(dpi.QoSDeregNfy) {
				r.deregister()
				return
			}

		case <-flush:
			flush = nil
			sent := r.deliver(batch)
			batch = nil
			if sent && r.qos(dpi.QoSDeregNfy) {
				r.deregister()
				return
			}

		case <-expire:
			r.deliver(batch)
			r.deregister()
			return

		case <-r.stop:
			return
		}
	}
}

// deregister ends the registration with a terminal Deregister event
func (r *registration) deregister() {
	if !r.active.CompareAndSwap(true, false) {
		return
	}
	p := newPayload(dpi.EventDereg, r.server.opts.DatabaseName, false)
	if r.namespace() == dpi.NamespaceAQ {
		p.Database = ""
		p.Queue, p.Consumer = r.queue, r.consumer
	}
	r.send(p)
	log.Debug().Uint64("handle", uint64(r.handle)).Msg("Registration deregistered")
}

// deliver sends one notification covering batch, merged (Summary) or reduced
// to its last notice (Last). It reports whether anything was sent.
func (r *registration) deliver(batch []*notify.Notice) bool {
	if len(batch) == 0 {
		return false
	}

	if r.namespace() == dpi.NamespaceAQ {
		// a grouped batch of arrivals is reported once, for the latest message
		n := batch[len(batch)-1]
		p := newPayload(dpi.EventAQ, "", true)
		p.Queue, p.Consumer = n.Queue, n.Consumer
		r.send(p)
		return true
	}

	grouped := r.params.GroupingClass == dpi.GroupingClassTime
	if grouped && r.params.GroupingType == dpi.GroupingTypeLast {
		batch = batch[len(batch)-1:]
	}

	p := r.changePayload(batch)
	if p == nil {
		return false
	}
	r.send(p)
	return true
}

// changePayload merges the row changes of batch that pass the operations
// filter and touch a watched table
func (r *registration) changePayload(batch []*notify.Notice) *Payload {
	filter := r.params.Operations &^ dpi.OpAllRows
	rowIDs := r.qos(dpi.QoSRowIDs)

	var order []string
	byTable := make(map[string]*PayloadTable)

	r.mu.RLock()
	for _, n := range batch {
		if n.Kind != notify.KindCommit {
			continue
		}
		for _, c := range n.Changes {
			if filter != 0 && c.Op&filter == 0 {
				continue
			}
			if !r.watching(c.Table) {
				continue
			}
			key := strings.ToLower(c.Table)
			t, ok := byTable[key]
			if !ok {
				t = &PayloadTable{Name: c.Table}
				byTable[key] = t
				order = append(order, key)
			}
			t.op |= c.Op
			if c.RowID == 0 {
				continue
			}
			if rowIDs {
				t.Rows = append(t.Rows, PayloadRow{RowID: EncodeRowID(c.Table, c.RowID), op: c.Op})
			} else {
				t.op |= dpi.OpAllRows
			}
		}
	}

	var queries []PayloadQuery
	if r.qos(dpi.QoSQuery) && len(order) > 0 {
		ids := make([]uint64, 0, len(r.queries))
		for id := range r.queries {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			q := PayloadQuery{ID: id}
			for _, name := range r.queries[id] {
				if t, ok := byTable[strings.ToLower(name)]; ok {
					q.Tables = append(q.Tables, *t)
					q.op |= t.op
				}
			}
			if len(q.Tables) > 0 {
				queries = append(queries, q)
			}
		}
	}
	r.mu.RUnlock()

	if len(order) == 0 {
		return nil
	}

	last := batch[len(batch)-1]
	if r.qos(dpi.QoSQuery) {
		if len(queries) == 0 {
			return nil
		}
		p := newPayload(dpi.EventQueryChange, last.Database, true)
		p.setTransactionID(last.TransactionID)
		p.Queries = queries
		return p
	}

	p := newPayload(dpi.EventObjChange, last.Database, true)
	p.setTransactionID(last.TransactionID)
	for _, key := range order {
		p.Tables = append(p.Tables, *byTable[key])
	}
	return p
}

// send delivers one notification through the registration's protocol
func (r *registration) send(p *Payload) {
	p.Subscription = r.params.Name
	if info := r.server.failNext.Swap(nil); info != nil {
		p.setError(info)
	}
	p.finish()

	protocol := r.params.Protocol.String()
	r.delivered.Add(1)
	telemetry.ServerNotificationsTotal.With(protocol).Inc()

	if r.params.Protocol == dpi.ProtoCallback {
		defer func() {
			if v := recover(); v != nil {
				log.Error().Interface("panic", v).Uint64("handle", uint64(r.handle)).Msg("Notification callback panicked")
			}
		}()
		r.params.Callback(r.params.CallbackContext, r.builder.message(p))
		return
	}

	if err := r.server.deliverRemote(context.Background(), r.params.Protocol, r.params.RecipientName, p); err != nil {
		telemetry.ServerDeliveryFailuresTotal.With(protocol).Inc()
		log.Warn().
			Err(err).
			Str("protocol", protocol).
			Str("recipient", r.params.RecipientName).
			Msg("Notification delivery failed")
	}
}
