package consumer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/KodeKenobi/nusuru-admin/internal/auth"
	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/internal/services"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
)

// Dispatcher runs one dispatch request to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.DispatchRequest) (*models.DispatchReport, error)
}

// PushConsumer dispatches requests published to the push queue. Per-token
// failures are acknowledged; they live in the report and the status store.
type PushConsumer struct {
	base          *BaseConsumer
	dispatcher    Dispatcher
	metrics       *metrics.Metrics
	logger        *slog.Logger
	maxDeliveries int
}

func NewPushConsumer(base *BaseConsumer, dispatcher Dispatcher, metrics *metrics.Metrics, logger *slog.Logger, maxDeliveries int) *PushConsumer {
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &PushConsumer{
		base:          base,
		dispatcher:    dispatcher,
		metrics:       metrics,
		logger:        logger,
		maxDeliveries: maxDeliveries,
	}
}

func (p *PushConsumer) Start(ctx context.Context) error {
	return p.base.Start(ctx, p.handleDelivery)
}

func (p *PushConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) error {
	p.metrics.IncConsumed()

	req, err := services.DecodeRequest(bytes.NewReader(msg.Body))
	if err != nil {
		p.logger.Error("failed to decode dispatch request", slog.Any("error", err))
		_ = msg.Reject(false)
		return err
	}
	if req.RequestID == "" {
		req.RequestID = msg.MessageId
	}

	report, err := p.dispatcher.Dispatch(ctx, req)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) || auth.ErrSigning.Has(err) {
			p.logger.Error("dispatch request rejected", slog.String("request_id", req.RequestID), slog.Any("error", err))
			_ = msg.Reject(false)
			return err
		}

		requeue := p.shouldRetry(&msg)
		if requeue {
			p.logger.Warn("dispatch failed, message requeued", slog.String("request_id", req.RequestID), slog.Any("error", err))
		} else {
			p.logger.Error("dispatch failed, message dead-lettered", slog.String("request_id", req.RequestID), slog.Any("error", err))
		}
		_ = msg.Nack(false, requeue)
		return err
	}

	p.logger.Debug("queued dispatch completed",
		slog.String("request_id", req.RequestID),
		slog.Int("failure", report.FailureCount))
	return msg.Ack(false)
}

// shouldRetry requeues until the dead-letter history reaches maxDeliveries.
// Without that history a message is requeued once.
func (p *PushConsumer) shouldRetry(msg *amqp.Delivery) bool {
	attempts, ok := deathCount(msg)
	if !ok {
		return !msg.Redelivered
	}
	return attempts < p.maxDeliveries
}

func deathCount(msg *amqp.Delivery) (int, bool) {
	raw, ok := msg.Headers["x-death"]
	if !ok {
		return 0, false
	}
	deaths, ok := raw.([]interface{})
	if !ok || len(deaths) == 0 {
		return 0, false
	}
	table, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0, false
	}
	count, ok := table["count"].(int64)
	if !ok {
		return 0, false
	}
	return int(count), true
}
