package services

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/pkg/logger"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
	"github.com/KodeKenobi/nusuru-admin/pkg/retry"
)

// DispatchEngine fans one notification out to many device tokens.
type DispatchEngine struct {
	sender         Sender
	strategy       retry.Strategy
	maxConcurrency int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewDispatchEngine builds an engine. A nil strategy means one attempt per
// token; maxConcurrency <= 0 means no limit.
func NewDispatchEngine(sender Sender, strategy retry.Strategy, maxConcurrency int, metrics *metrics.Metrics, logger *slog.Logger) *DispatchEngine {
	if strategy == nil {
		strategy = retry.Once
	}
	return &DispatchEngine{
		sender:         sender,
		strategy:       strategy,
		maxConcurrency: maxConcurrency,
		metrics:        metrics,
		logger:         logger,
	}
}

// Dispatch delivers to every target concurrently and returns one result per
// target, in target order. A failing token never affects its siblings.
func (e *DispatchEngine) Dispatch(ctx context.Context, accessToken string, targets []string, notification models.Notification, data map[string]string) []models.DispatchResult {
	results := make([]models.DispatchResult, len(targets))

	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i, token := range targets {
		i, token := i, token
		g.Go(func() error {
			results[i] = e.deliver(ctx, accessToken, &Message{
				Token:        token,
				Notification: notification,
				Data:         data,
			})
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *DispatchEngine) deliver(ctx context.Context, accessToken string, msg *Message) (result models.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("delivery panicked",
				slog.String("token", logger.TokenPreview(msg.Token)),
				slog.Any("panic", r))
			result = models.DispatchResult{Token: msg.Token, Error: fmt.Sprintf("delivery panicked: %v", r)}
		}
	}()

	attempts := 0
	err := e.strategy.Do(ctx, func() error {
		attempts++
		if attempts > 1 && e.metrics != nil {
			e.metrics.IncRetried()
		}
		var sendErr error
		result, sendErr = e.sender.Send(ctx, accessToken, msg)
		return sendErr
	})
	if attempts == 0 {
		result = models.DispatchResult{Error: "delivery not attempted"}
		if err != nil {
			result.Error = err.Error()
		}
	}

	result.Token = msg.Token
	if result.Success {
		result.Error = ""
	} else if result.Error == "" && err != nil {
		result.Error = err.Error()
	}
	return result
}
