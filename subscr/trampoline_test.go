package subscr

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/maxpert/cqnwatch/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrampoline_ObjectChangeWithRowID(t *testing.T) {
	conn := newMockConn()
	rec := &changeRecorder{}
	sub, err := NewForm(ChangeCallback(rec.handle)).QoS(QoSQuery | QoSRowIDs).Submit(conn)
	require.NoError(t, err)
	defer sub.Close()

	_, err = sub.SetQuery("select * from T")
	require.NoError(t, err)

	conn.deliver(changeMessage(dpi.EventObjChange, table("T", dpi.OpInsert|dpi.OpAllRows, "AAAQ//AAAAABAABAAA")))

	require.Len(t, rec.events, 1)
	require.Empty(t, rec.errs)
	ev := rec.events[0]
	assert.Equal(t, event.ObjectChange, ev.EventType())
	require.Len(t, ev.Tables(), 1)
	tbl := ev.Tables()[0]
	assert.Equal(t, "T", tbl.Name())
	assert.True(t, tbl.Operation().Contains(event.OpInsert))
	require.Len(t, tbl.Rows(), 1)
	assert.Equal(t, "AAAQ//AAAAABAABAAA", tbl.Rows()[0].RowID())
	assert.Equal(t, uint64(1), sub.Delivered())
}

func TestTrampoline_EmbeddedError(t *testing.T) {
	conn := newMockConn()
	var gotEvent *event.ChangeEvent
	var gotErr error
	calls := 0
	sub, err := NewForm(ChangeCallback(func(ev *event.ChangeEvent, err error) {
		calls++
		gotEvent, gotErr = ev, err
	})).Submit(conn)
	require.NoError(t, err)
	defer sub.Close()

	msg := changeMessage(dpi.EventObjChange, table("T", dpi.OpInsert))
	msg.ErrorInfo = dpi.NewErrorInfo(24010, "dpiSubscr_callback", "deliver", "QUEUE does not exist")
	conn.deliver(msg)

	assert.Equal(t, 1, calls)
	assert.Nil(t, gotEvent, "no event is constructed")
	var embedded *event.EmbeddedMessageError
	require.ErrorAs(t, gotErr, &embedded)
	assert.Equal(t, int32(24010), embedded.Err.Code)
	assert.False(t, sub.Deregistered())
}

func TestTrampoline_TimeoutDeregisterIsTerminal(t *testing.T) {
	conn := newMockConn()
	rec := &changeRecorder{}
	sub, err := NewForm(ChangeCallback(rec.handle)).Timeout(5 * time.Second).Submit(conn)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, uint32(5), conn.lastParams().Timeout)

	dereg := changeMessage(dpi.EventDereg)
	dereg.Registered = 0
	conn.deliver(dereg)

	require.Len(t, rec.events, 1)
	assert.Empty(t, rec.errs)
	assert.Equal(t, event.Deregister, rec.events[0].EventType())
	assert.False(t, rec.events[0].Registered())
	assert.True(t, sub.Deregistered())

	conn.deliver(changeMessage(dpi.EventObjChange, table("T", dpi.OpUpdate)))
	conn.deliver(changeMessage(dpi.EventDereg))
	assert.Len(t, rec.events, 1, "nothing is delivered after Deregister")
	assert.Equal(t, uint64(1), sub.Delivered())
}

func TestTrampoline_UnsupportedEventKind(t *testing.T) {
	conn := newMockConn()
	rec := &changeRecorder{}
	sub, err := NewForm(ChangeCallback(rec.handle)).Submit(conn)
	require.NoError(t, err)
	defer sub.Close()

	conn.deliver(changeMessage(dpi.EventType(42)))

	assert.Empty(t, rec.events)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], event.ErrUnsupportedEventKind)
}

func TestTrampoline_RecoversCallbackPanic(t *testing.T) {
	conn := newMockConn()
	calls := 0
	sub, err := NewForm(ChangeCallback(func(*event.ChangeEvent, error) {
		calls++
		if calls == 1 {
			panic("callback bug")
		}
	})).Submit(conn)
	require.NoError(t, err)
	defer sub.Close()

	assert.NotPanics(t, func() {
		conn.deliver(changeMessage(dpi.EventObjChange, table("T", dpi.OpInsert)))
	})
	conn.deliver(changeMessage(dpi.EventObjChange, table("T", dpi.OpInsert)))
	assert.Equal(t, 2, calls, "a panicking callback stays registered")
}

func TestTrampoline_UnknownTokenIsDropped(t *testing.T) {
	assert.NotPanics(t, func() {
		trampoline(^uintptr(0), changeMessage(dpi.EventObjChange))
	})
}

func TestTrampoline_QueueEvents(t *testing.T) {
	conn := newMockConn()
	var got []*event.QueueEvent
	sub, err := NewForm(QueueCallback(func(ev *event.QueueEvent, err error) {
		require.NoError(t, err)
		got = append(got, ev.Clone())
	})).Name("ORDERS_Q:BILLING").Submit(conn)
	require.NoError(t, err)
	defer sub.Close()

	msg := &dpi.SubscrMessage{EventType: dpi.EventAQ, Registered: 1}
	msg.QueueName, msg.QueueNameLength = dpi.RefString("ORDERS_Q")
	msg.ConsumerName, msg.ConsumerNameLength = dpi.RefString("BILLING")
	conn.deliver(msg)
	conn.deliver(&dpi.SubscrMessage{EventType: dpi.EventDereg})
	conn.deliver(msg)

	require.Len(t, got, 2)
	assert.Equal(t, event.MessageArrived, got[0].EventType())
	assert.Equal(t, "ORDERS_Q", got[0].QueueName())
	assert.Equal(t, "BILLING", got[0].ConsumerName())
	assert.Equal(t, event.QueueDeregister, got[1].EventType())
	assert.True(t, sub.Deregistered())
}

func TestTrampoline_SerializesConcurrentDelivery(t *testing.T) {
	conn := newMockConn()
	var inFlight, maxInFlight, calls int
	var mu sync.Mutex
	sub, err := NewForm(ChangeCallback(func(*event.ChangeEvent, error) {
		mu.Lock()
		inFlight++
		calls++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	})).Submit(conn)
	require.NoError(t, err)
	defer sub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.deliver(changeMessage(dpi.EventObjChange, table("T", dpi.OpInsert)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, calls)
	assert.Equal(t, 1, maxInFlight)
}
