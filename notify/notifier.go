// Package notify fans server side notices out to registrations.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// defaultBufferSize is used when Options.Buffer is not set.
const defaultBufferSize = 16

// Kind of a notice
type Kind uint8

const (
	// KindCommit is a committed transaction carrying row changes
	KindCommit Kind = iota + 1
	// KindShutdown is sent once when the server stops
	KindShutdown
	// KindEnqueue is a message put on a queue
	KindEnqueue
)

// Change is one row level change captured before commit
type Change struct {
	Table string
	Op    uint32 // single dpi.Op* bit
	RowID int64
}

// Notice is published by the server and received by every matching subscriber.
// Subscribers must treat it as read-only.
type Notice struct {
	Kind          Kind
	Database      string
	TransactionID []byte
	Changes       []Change // KindCommit
	Queue         string   // KindEnqueue
	Consumer      string   // KindEnqueue
	At            time.Time
}

// Filter selects notices for a subscriber. nil matches everything.
type Filter func(*Notice) bool

// Options for a subscription
type Options struct {
	Buffer int
	// Lossy subscribers have notices dropped when their buffer is full;
	// others make Publish wait until there is room or they are cancelled.
	Lossy bool
}

type subscription struct {
	id      uint64
	filter  Filter
	lossy   bool
	ch      chan *Notice
	done    chan struct{}
	stopped atomic.Bool
	dropped atomic.Uint64
}

func (s *subscription) matches(n *Notice) bool {
	return s.filter == nil || s.filter(n)
}

func (s *subscription) stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.done)
	}
}

// Hub is a thread-safe notice fan-out. mu is held for reading while Publish
// sends and for writing while channels are closed; stopping a subscriber never
// takes it, so a Publish blocked on that subscriber can always be released.
type Hub struct {
	mu            sync.RWMutex
	subscriptions *xsync.MapOf[uint64, *subscription]
	nextID        atomic.Uint64
	closed        atomic.Bool
}

func NewHub() *Hub {
	return &Hub{
		subscriptions: xsync.NewMapOf[uint64, *subscription](),
	}
}

// Publish delivers n to every matching subscriber and returns how many
// accepted it. Notices published after Close are discarded.
func (h *Hub) Publish(n *Notice) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed.Load() {
		return 0
	}

	delivered := 0
	h.subscriptions.Range(func(_ uint64, sub *subscription) bool {
		if !sub.matches(n) {
			return true
		}

		if sub.lossy {
			select {
			case sub.ch <- n:
				delivered++
			default:
				sub.dropped.Add(1)
			}
			return true
		}

		select {
		case sub.ch <- n:
			delivered++
		case <-sub.done:
		}
		return true
	})
	return delivered
}

// Subscribe registers a subscriber and returns its channel and an idempotent
// cancel function. The channel is closed after cancel or Close.
func (h *Hub) Subscribe(filter Filter, opts Options) (<-chan *Notice, func()) {
	size := opts.Buffer
	if size <= 0 {
		size = defaultBufferSize
	}
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		lossy:  opts.Lossy,
		ch:     make(chan *Notice, size),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		sub.stop()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subscriptions.Store(sub.id, sub)
	h.mu.Unlock()

	return sub.ch, func() {
		sub.stop()
		h.unsubscribe(sub.id)
	}
}

// Len returns the number of live subscribers
func (h *Hub) Len() int {
	return h.subscriptions.Size()
}

// Close cancels every subscriber. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.subscriptions.Range(func(_ uint64, sub *subscription) bool {
		sub.stop()
		return true
	})

	h.mu.Lock()
	h.closed.Store(true)
	var subs []*subscription
	h.subscriptions.Range(func(id uint64, sub *subscription) bool {
		subs = append(subs, sub)
		h.subscriptions.Delete(id)
		return true
	})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
		close(sub.ch)
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions.LoadAndDelete(id)
	h.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}
