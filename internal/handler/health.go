package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker is whatever can be probed for liveness — in practice the
// active storage adapter.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves the /healthz probe.
type HealthHandler struct {
	checker HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

// HandleHealthz probes the storage backend with a short deadline.
//
// HTTP: GET /healthz
//
// The deadline is deliberately tighter than the backend clients' own
// timeouts: a probe that hangs for 30 seconds tells the orchestrator nothing
// useful.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.checker.HealthCheck(ctx); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
