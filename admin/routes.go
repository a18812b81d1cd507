package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/cqnwatch/telemetry"
)

// NewRouter builds the admin router. /health and /metrics stay open; the
// rest require token when it is set.
func NewRouter(handlers *AdminHandlers, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(token))
		r.Get("/subscriptions", handlers.handleSubscriptions)
		r.Get("/subscriptions/{name}", func(w http.ResponseWriter, req *http.Request) {
			handlers.handleSubscription(w, req, chi.URLParam(req, "name"))
		})
		r.Get("/relay", handlers.handleRelay)
	})

	return r
}
