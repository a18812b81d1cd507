package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/cqnwatch/relay"
	"github.com/maxpert/cqnwatch/subscr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct{}

func (fakeServer) DatabaseName() string { return "ORCL" }
func (fakeServer) Registrations() int   { return 2 }
func (fakeServer) OpenStatements() int  { return 0 }

type fakeRelay []relay.SinkStatus

func (f fakeRelay) Status() []relay.SinkStatus { return f }

func newTestRouter(t *testing.T, rl RelayStatus, token string) http.Handler {
	t.Helper()
	h := NewAdminHandlers(fakeServer{}, rl)
	h.active = func() []subscr.Info {
		return []subscr.Info{
			{Name: "orders", Namespace: "DBChange", Protocol: "Callback", Handle: 1, QueryIDs: []uint64{101}, Delivered: 3, Created: time.Unix(0, 0)},
			{Name: "audit", Namespace: "DBChange", Protocol: "HTTP", Recipient: "http://hook", Handle: 2},
		}
	}
	return NewRouter(h, token)
}

func get(t *testing.T, h http.Handler, path string, header ...string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]json.RawMessage
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := get(t, newTestRouter(t, nil, "secret"), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(body["data"], &data))
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "ORCL", data["database"])
	assert.Equal(t, float64(2), data["registrations"])
	assert.Equal(t, float64(2), data["subscriptions"])
}

func TestSubscriptions(t *testing.T) {
	router := newTestRouter(t, nil, "")

	rec, body := get(t, router, "/subscriptions")
	require.Equal(t, http.StatusOK, rec.Code)
	var subs []subscr.Info
	require.NoError(t, json.Unmarshal(body["data"], &subs))
	require.Len(t, subs, 2)
	assert.Equal(t, "orders", subs[0].Name)
	assert.Equal(t, []uint64{101}, subs[0].QueryIDs)

	_, body = get(t, router, "/subscriptions?limit=1")
	require.NoError(t, json.Unmarshal(body["data"], &subs))
	assert.Len(t, subs, 1)

	rec, _ = get(t, router, "/subscriptions?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = get(t, router, "/subscriptions?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionByName(t *testing.T) {
	router := newTestRouter(t, nil, "")

	rec, body := get(t, router, "/subscriptions/audit")
	require.Equal(t, http.StatusOK, rec.Code)
	var info subscr.Info
	require.NoError(t, json.Unmarshal(body["data"], &info))
	assert.Equal(t, "http://hook", info.Recipient)

	rec, body = get(t, router, "/subscriptions/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(body["error"]), "missing")
}

func TestRelayStatus(t *testing.T) {
	rec, _ := get(t, newTestRouter(t, nil, ""), "/relay")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := get(t, newTestRouter(t, fakeRelay{{Name: "nats", Cursor: 4, Pending: 1}}, ""), "/relay")
	require.Equal(t, http.StatusOK, rec.Code)
	var status []relay.SinkStatus
	require.NoError(t, json.Unmarshal(body["data"], &status))
	assert.Equal(t, []relay.SinkStatus{{Name: "nats", Cursor: 4, Pending: 1}}, status)
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(t, nil, "secret")

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"bad scheme", []string{"Authorization", "Basic secret"}, http.StatusUnauthorized},
		{"wrong bearer", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", []string{"Authorization", "Bearer secret"}, http.StatusOK},
		{"header", []string{"X-Cqnwatch-Token", "secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := get(t, router, "/subscriptions", tt.header...)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMetricsAbsentWithoutTelemetry(t *testing.T) {
	rec, _ := get(t, newTestRouter(t, nil, ""), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
