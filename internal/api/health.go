package api

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nullstack-id/identitycore/internal/api/helpers"
)

// HealthHandler validates both API liveness and database connectivity.
type HealthHandler struct {
	pool *pgxpool.Pool
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	if err := h.pool.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "health check failed", "error", err, "detail", "database unreachable")
		helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy", "error": "service temporarily unavailable",
		})
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
