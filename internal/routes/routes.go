// Package routes exposes the dispatch pipeline over HTTP.
package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"github.com/KodeKenobi/nusuru-admin/internal/repository"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
)

// StatusReader looks up recorded dispatch outcomes.
type StatusReader interface {
	GetStatus(ctx context.Context, requestID string) (*repository.DispatchStatus, error)
}

type RouterConfig struct {
	Dispatcher Dispatcher
	// Statuses is optional; the lookup route is only mounted when set.
	Statuses StatusReader
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Ready    *atomic.Bool
	Started  time.Time
}

// NewRouter wires the dispatch endpoint and the health/metrics endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(CORS)

	send := NewDispatchHandler(cfg.Dispatcher, cfg.Metrics, cfg.Logger)
	logged := func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(cfg.Logger, next)
	}

	mux.With(logged).Method(http.MethodPost, "/send-notification", send)
	mux.With(logged).Method(http.MethodPost, "/functions/v1/send-notification", send)

	if cfg.Statuses != nil {
		mux.With(logged).Get("/dispatches/{request_id}", dispatchStatusHandler(cfg.Statuses, cfg.Logger))
	}

	mux.Get("/health", healthHandler(cfg.Started))
	mux.Get("/readyz", readyHandler(cfg.Ready))
	mux.Handle("/metrics", cfg.Metrics.Handler())
	return mux
}

func healthHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "push dispatch healthy",
			"meta": map[string]interface{}{
				"uptime_seconds": int(time.Since(started).Seconds()),
				"timestamp":      time.Now().UTC(),
			},
		})
	}
}

func readyHandler(ready *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func dispatchStatusHandler(statuses StatusReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "request_id")
		status, err := statuses.GetStatus(r.Context(), requestID)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dispatch not found")
			return
		}
		if err != nil {
			logger.Error("failed to load dispatch status",
				slog.String("request_id", requestID),
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to load dispatch status")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"request_id":    status.RequestID,
			"status":        status.Status,
			"provider":      status.Provider,
			"total":         status.Total,
			"success_count": status.SuccessCount,
			"failure_count": status.FailureCount,
			"detail":        status.Detail,
			"updated_at":    status.UpdatedAt.UTC(),
		})
	}
}
