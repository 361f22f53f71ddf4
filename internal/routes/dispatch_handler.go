package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/KodeKenobi/nusuru-admin/internal/auth"
	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/internal/services"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
)

// Public messages for pipeline failures.
const (
	msgSendFailed = "Failed to send notification: "
	msgAuthFailed = "Failed to authenticate with Firebase"
)

// Dispatcher runs one dispatch request to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.DispatchRequest) (*models.DispatchReport, error)
}

// DispatchHandler serves the send-notification endpoint.
type DispatchHandler struct {
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewDispatchHandler(dispatcher Dispatcher, metrics *metrics.Metrics, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

func (h *DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := h.send(w, r)
	h.metrics.ObserveRequest(code, time.Since(start))
}

func (h *DispatchHandler) send(w http.ResponseWriter, r *http.Request) int {
	req, err := services.DecodeRequest(r.Body)
	if err != nil {
		return writeError(w, http.StatusBadRequest, err.Error())
	}

	report, err := h.dispatcher.Dispatch(r.Context(), req)
	if req.RequestID != "" {
		w.Header().Set("X-Request-Id", req.RequestID)
	}
	if err != nil {
		return h.writeDispatchError(w, req.RequestID, err)
	}

	code := http.StatusOK
	if report.FailureCount > 0 {
		code = http.StatusMultiStatus
	}
	return writeJSON(w, code, report)
}

func (h *DispatchHandler) writeDispatchError(w http.ResponseWriter, requestID string, err error) int {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return writeError(w, http.StatusBadRequest, verr.Message)
	case auth.ErrExchange.Has(err):
		return writeError(w, http.StatusInternalServerError, msgAuthFailed)
	default:
		h.logger.Error("dispatch failed",
			slog.String("request_id", requestID),
			slog.Any("error", err))
		return writeError(w, http.StatusInternalServerError, msgSendFailed+err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, message string) int {
	return writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
	return code
}
