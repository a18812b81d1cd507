// Package admin serves the HTTP admin endpoints: health, active
// subscriptions, relay progress and Prometheus metrics.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maxpert/cqnwatch/relay"
	"github.com/maxpert/cqnwatch/subscr"
	"github.com/rs/zerolog/log"
)

// Server is the notification server the process is attached to
type Server interface {
	DatabaseName() string
	Registrations() int
	OpenStatements() int
}

// RelayStatus is implemented by *relay.Relay
type RelayStatus interface {
	Status() []relay.SinkStatus
}

// AdminHandlers serves admin requests
type AdminHandlers struct {
	server  Server
	relay   RelayStatus // nil when relaying is disabled
	started time.Time

	// active lists subscriptions; replaced in tests
	active func() []subscr.Info
}

func NewAdminHandlers(server Server, relay RelayStatus) *AdminHandlers {
	return &AdminHandlers{
		server:  server,
		relay:   relay,
		started: time.Now(),
		active:  subscr.Active,
	}
}

func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"status":          "ok",
		"database":        h.server.DatabaseName(),
		"registrations":   h.server.Registrations(),
		"open_statements": h.server.OpenStatements(),
		"subscriptions":   len(h.active()),
		"uptime_seconds":  int64(time.Since(h.started).Seconds()),
	})
}

// handleSubscriptions lists active subscriptions, oldest first, up to ?limit
func (h *AdminHandlers) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	subs := h.active()
	if len(subs) > limit {
		subs = subs[:limit]
	}
	writeJSONResponse(w, subs)
}

func (h *AdminHandlers) handleSubscription(w http.ResponseWriter, r *http.Request, name string) {
	for _, info := range h.active() {
		if info.Name == name {
			writeJSONResponse(w, info)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("subscription %q not found", name))
}

func (h *AdminHandlers) handleRelay(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		writeErrorResponse(w, http.StatusNotFound, "relay is disabled")
		return
	}
	writeJSONResponse(w, h.relay.Status())
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit reads ?limit, defaulting to 256 and capped at 1024
func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 256, nil
	}

	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}
