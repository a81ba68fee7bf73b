// Package http exposes the inbound HTTP surface of the engine: payment
// gateway webhooks, the real-time channel with its notification inbox, the
// local storage links and a health probe.
package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"carrental-backend/internal/logger"
	"carrental-backend/internal/service"

	"github.com/gorilla/mux"
)

// Pinger reports whether a dependency is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RealtimeHub upgrades a request into a customer's websocket connection.
type RealtimeHub interface {
	ServeWS(w http.ResponseWriter, r *http.Request, customerID int64)
}

type RouterConfig struct {
	Webhooks *WebhookHandler
	Storage  ObjectStore // nil disables the storage routes
	Hub      RealtimeHub // nil disables /ws
	Inbox    service.NotificationInbox
	Health   []Pinger
}

func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequests)

	router.HandleFunc("/healthz", healthHandler(cfg.Health)).Methods(http.MethodGet)
	if cfg.Webhooks != nil {
		router.HandleFunc("/webhooks/{method}", cfg.Webhooks.HandleWebhook).Methods(http.MethodPost, http.MethodGet)
	}
	if cfg.Hub != nil {
		router.HandleFunc("/ws", wsHandler(cfg.Hub)).Methods(http.MethodGet)
	}
	if cfg.Inbox != nil {
		inbox := NewInboxHandler(cfg.Inbox)
		router.HandleFunc("/notifications", inbox.HandleList).Methods(http.MethodGet)
		router.HandleFunc("/notifications/{id:[0-9]+}/read", inbox.HandleMarkRead).Methods(http.MethodPost)
	}
	if cfg.Storage != nil {
		RegisterStorageRoutes(router, cfg.Storage)
	}
	return router
}

// customerID reads the X-Customer-ID header or the customer_id query
// parameter. Authentication happens in front of this service.
func customerID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-Customer-ID")
	if raw == "" {
		raw = r.URL.Query().Get("customer_id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func wsHandler(hub RealtimeHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := customerID(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "customer id is required"})
			return
		}
		hub.ServeWS(w, r, id)
	}
}

func healthHandler(deps []Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, d := range deps {
			if err := d.PingContext(ctx); err != nil {
				logger.Warn("Health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "durationMs", time.Since(start).Milliseconds())
	})
}
