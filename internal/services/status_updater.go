package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/internal/repository"
)

const (
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
)

// StatusRecorder tracks the lifecycle of a dispatch request.
type StatusRecorder interface {
	MarkProcessing(ctx context.Context, requestID string, total int)
	MarkCompleted(ctx context.Context, requestID string, report *models.DispatchReport)
	MarkFailed(ctx context.Context, requestID, detail string)
}

// NopStatusRecorder is used when no status store is configured.
type NopStatusRecorder struct{}

func (NopStatusRecorder) MarkProcessing(context.Context, string, int)                     {}
func (NopStatusRecorder) MarkCompleted(context.Context, string, *models.DispatchReport) {}
func (NopStatusRecorder) MarkFailed(context.Context, string, string)                    {}

// StatusUpdater writes dispatch statuses to the store. Store errors are
// logged and never fail the dispatch.
type StatusUpdater struct {
	store    *repository.StatusStore
	provider string
	logger   *slog.Logger
}

func NewStatusUpdater(store *repository.StatusStore, provider string, logger *slog.Logger) *StatusUpdater {
	return &StatusUpdater{
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

func (s *StatusUpdater) MarkProcessing(ctx context.Context, requestID string, total int) {
	s.update(ctx, repository.DispatchStatus{
		RequestID: requestID,
		Status:    StatusProcessing,
		Total:     total,
	})
}

func (s *StatusUpdater) MarkCompleted(ctx context.Context, requestID string, report *models.DispatchReport) {
	status := StatusDelivered
	switch {
	case report.SuccessCount == 0 && report.Total > 0:
		status = StatusFailed
	case report.FailureCount > 0:
		status = StatusPartial
	}
	s.update(ctx, repository.DispatchStatus{
		RequestID:    requestID,
		Status:       status,
		Total:        report.Total,
		SuccessCount: report.SuccessCount,
		FailureCount: report.FailureCount,
		Detail:       failureSummary(report),
	})
}

func (s *StatusUpdater) MarkFailed(ctx context.Context, requestID, detail string) {
	s.update(ctx, repository.DispatchStatus{
		RequestID: requestID,
		Status:    StatusFailed,
		Detail:    detail,
	})
}

func (s *StatusUpdater) update(ctx context.Context, status repository.DispatchStatus) {
	status.Provider = s.provider
	if err := s.store.UpdateStatus(ctx, status); err != nil {
		s.logger.Error("failed to update dispatch status",
			slog.String("request_id", status.RequestID),
			slog.String("status", status.Status),
			slog.Any("error", err))
	}
}

// failureSummary lists the distinct provider errors of a report.
func failureSummary(report *models.DispatchReport) string {
	if report.FailureCount == 0 {
		return ""
	}
	counts := make(map[string]int)
	var order []string
	for _, res := range report.Results {
		if res.Success {
			continue
		}
		if counts[res.Error] == 0 {
			order = append(order, res.Error)
		}
		counts[res.Error]++
	}
	parts := make([]string, 0, len(order))
	for _, msg := range order {
		parts = append(parts, fmt.Sprintf("%s (x%d)", msg, counts[msg]))
	}
	return strings.Join(parts, "; ")
}
