package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Health reports database connectivity and the number of live sessions.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"database":        "ok",
		"active_sessions": h.sm.Len(),
	})
}
