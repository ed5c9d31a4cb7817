package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go-token-auth/internal/model"
)

type pinger interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	store pinger
}

// NewHealthHandler accepts a nil store for the in-memory driver.
func NewHealthHandler(store pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.store.Health(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, model.OKResponse{OK: false})
			return
		}
	}

	writeJSON(w, http.StatusOK, model.OKResponse{OK: true})
}
