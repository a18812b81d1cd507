package subscr

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Callback boxes are reachable from the external system only through their
// token. The registry is the single place a token is turned back into a box.
var (
	boxes     = xsync.NewMapOf[uintptr, *callbackBox]()
	lastToken atomic.Uintptr
)

type callbackBox struct {
	token     uintptr
	namespace dpi.Namespace
	onChange  ChangeHandler
	onQueue   QueueHandler
	charset   event.Charset

	// serializes handler invocations for one registration
	mu           sync.Mutex
	released     atomic.Bool
	deregistered atomic.Bool
	delivered    atomic.Uint64
}

func registerBox(p Protocol, cs event.Charset) *callbackBox {
	b := &callbackBox{
		token:     lastToken.Add(1),
		namespace: p.namespace,
		onChange:  p.onChange,
		onQueue:   p.onQueue,
		charset:   cs,
	}
	boxes.Store(b.token, b)
	return b
}

// release unregisters the box. Messages arriving afterwards are dropped;
// a handler already running is allowed to finish.
func (b *callbackBox) release() bool {
	if !b.released.CompareAndSwap(false, true) {
		return false
	}
	boxes.Delete(b.token)
	return true
}

// RegisteredCallbacks returns the number of callbacks currently reachable
// from the external system.
func RegisteredCallbacks() int {
	return boxes.Size()
}

// trampoline is the single entry point handed to the external system. It may
// run on any goroutine, concurrently with every other call in this package.
func trampoline(token uintptr, msg *dpi.SubscrMessage) {
	b, ok := boxes.Load(token)
	if !ok || msg == nil {
		telemetry.NotificationsDroppedTotal.Inc()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Deregister is terminal; anything after it, or after release, is stale.
	if b.released.Load() || b.deregistered.Load() {
		telemetry.NotificationsDroppedTotal.Inc()
		log.Debug().Uint64("token", uint64(token)).Msg("Dropping notification for inactive subscription")
		return
	}

	start := time.Now()
	b.dispatch(msg)
	telemetry.CallbackDurationSeconds.With(b.namespace.String()).Observe(time.Since(start).Seconds())
}

func (b *callbackBox) dispatch(msg *dpi.SubscrMessage) {
	defer func() {
		if r := recover(); r != nil {
			err := &CallbackPanicError{Token: b.token, Value: r, Stack: debug.Stack()}
			telemetry.CallbackPanicsTotal.Inc()
			log.Error().Err(err).Bytes("stack", err.Stack).Msg("Recovered panic in subscription callback")
		}
	}()

	b.delivered.Add(1)
	if b.namespace == dpi.NamespaceAQ {
		ev, err := event.DecodeQueue(msg, b.charset)
		switch {
		case err != nil:
			countDecodeError(err)
		case ev.EventType() == event.QueueDeregister:
			b.deregistered.Store(true)
			fallthrough
		default:
			telemetry.NotificationsTotal.With(ev.EventType().String()).Inc()
		}
		b.onQueue(ev, err)
		return
	}

	ev, err := event.DecodeChange(msg, b.charset)
	switch {
	case err != nil:
		countDecodeError(err)
	case ev.EventType() == event.Deregister:
		b.deregistered.Store(true)
		fallthrough
	default:
		telemetry.NotificationsTotal.With(ev.EventType().String()).Inc()
	}
	b.onChange(ev, err)
}

func countDecodeError(err error) {
	reason := "embedded"
	if errors.Is(err, event.ErrUnsupportedEventKind) {
		reason = "unsupported_kind"
	}
	telemetry.NotificationErrorsTotal.With(reason).Inc()
	log.Warn().Err(err).Msg("Notification delivered as error")
}
