package relay_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/cqnwatch/cfg"
	"github.com/maxpert/cqnwatch/emulator"
	"github.com/maxpert/cqnwatch/event"
	"github.com/maxpert/cqnwatch/relay"
	"github.com/maxpert/cqnwatch/relay/sink"
	_ "github.com/maxpert/cqnwatch/relay/transformer"
	"github.com/maxpert/cqnwatch/subscr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	capturedMu sync.Mutex
	captured   = map[string]*sink.MockSink{}
)

func init() {
	relay.RegisterSink("capture", func(config cfg.SinkConfiguration) (relay.Sink, error) {
		capturedMu.Lock()
		defer capturedMu.Unlock()
		s := &sink.MockSink{}
		captured[config.Name] = s
		return s, nil
	})
}

func capturedSink(name string) *sink.MockSink {
	capturedMu.Lock()
	defer capturedMu.Unlock()
	return captured[name]
}

func newRelay(t *testing.T, sinks ...cfg.SinkConfiguration) *relay.Relay {
	t.Helper()
	r, err := relay.New(relay.Config{DataDir: t.TempDir(), ClientID: 77, Sinks: sinks})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r
}

func TestNew_Errors(t *testing.T) {
	_, err := relay.New(relay.Config{})
	assert.Error(t, err)

	_, err = relay.New(relay.Config{
		DataDir: t.TempDir(),
		Sinks:   []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon", Format: "json"}},
	})
	assert.ErrorContains(t, err, "unknown sink type")

	_, err = relay.New(relay.Config{
		DataDir: t.TempDir(),
		Sinks:   []cfg.SinkConfiguration{{Name: "x", Type: "capture", Format: "xml"}},
	})
	assert.ErrorContains(t, err, "unknown format")
}

func TestRelay_AppendRequiresRunning(t *testing.T) {
	r, err := relay.New(relay.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Error(t, r.Append([]relay.Record{{Kind: relay.KindChange}}))

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	assert.NoError(t, r.Append([]relay.Record{{Kind: relay.KindChange}}))
	r.Stop()
	r.Stop()
}

func TestRelay_ForwardsEmulatorNotifications(t *testing.T) {
	r := newRelay(t,
		cfg.SinkConfiguration{Name: "all", Type: "capture", Format: "json", TopicPrefix: "cqn", PollIntervalMS: 5},
		cfg.SinkConfiguration{Name: "none", Type: "capture", Format: "msgpack", FilterTables: []string{"nothing"}, PollIntervalMS: 5},
	)

	ctx := context.Background()
	s, err := emulator.Open(ctx, emulator.Options{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Exec(ctx, "CREATE TABLE ORDERS (id INTEGER PRIMARY KEY, total REAL)")
	require.NoError(t, err)

	seen := make(chan struct{}, 4)
	form := subscr.NewForm(subscr.ChangeCallback(r.OnChange(func(*event.ChangeEvent, error) {
		seen <- struct{}{}
	}))).QoS(subscr.QoSRowIDs)
	sub, err := form.Submit(s)
	require.NoError(t, err)
	defer sub.Close()
	_, err = sub.SetQuery("select * from ORDERS")
	require.NoError(t, err)

	res, err := s.Exec(ctx, "INSERT INTO ORDERS (total) VALUES (9.5)")
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}

	all := capturedSink("all")
	require.Eventually(t, func() bool { return len(all.Messages()) == 1 }, 5*time.Second, 5*time.Millisecond)

	msg := all.Messages()[0]
	assert.Equal(t, "cqn.CQNWATCH.ORDERS", msg.Topic)
	assert.Equal(t, emulator.EncodeRowID("ORDERS", id), msg.Key)

	var env struct {
		Payload struct {
			Op     string `json:"op"`
			RowID  string `json:"rowid"`
			Source struct {
				Client uint64 `json:"client"`
				TxID   string `json:"txId"`
			} `json:"source"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "c", env.Payload.Op)
	assert.Equal(t, msg.Key, env.Payload.RowID)
	assert.Equal(t, uint64(77), env.Payload.Source.Client)
	assert.Len(t, env.Payload.Source.TxID, 16)

	assert.Empty(t, capturedSink("none").Messages())
}

func TestRelay_OnChangeSkipsErrors(t *testing.T) {
	r := newRelay(t, cfg.SinkConfiguration{Name: "errs", Type: "capture", Format: "json", PollIntervalMS: 5})

	var got error
	r.OnChange(func(_ *event.ChangeEvent, err error) { got = err })(nil, assert.AnError)
	assert.Equal(t, assert.AnError, got)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, capturedSink("errs").Messages())
}
