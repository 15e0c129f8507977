// Package httpapi mounts the coordinator's HTTP surface: the WebSocket
// endpoint for game servers and a couple of read-only operator routes.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/cheildo/arena-coordinator/internal/tournament"
)

// StateSource is satisfied by *tournament.Coordinator.
type StateSource interface {
	State(ctx context.Context) (tournament.View, error)
}

type handler struct {
	state  StateSource
	logger *slog.Logger
}

// NewRouter wires the routes. ws serves the long-lived socket so it sits
// outside the request timeout.
func NewRouter(state StateSource, ws http.Handler, logger *slog.Logger) http.Handler {
	h := &handler{state: state, logger: logger.With("component", "httpapi")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", ws.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/healthz", h.handleHealth)
		r.Get("/status", h.handleStatus)
	})

	return r
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Warn("Failed to write response", "error", err)
		}
	}
}

func (h *handler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]string{"error": message})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns arena occupancy, registered connections and the last
// roster as seen by the coordinator loop.
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	view, err := h.state.State(ctx)
	if err != nil {
		if errors.Is(err, tournament.ErrStopped) {
			h.writeError(w, http.StatusServiceUnavailable, "coordinator stopped")
			return
		}
		h.writeError(w, http.StatusGatewayTimeout, "coordinator busy")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}
