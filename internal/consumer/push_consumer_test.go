package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodeKenobi/nusuru-admin/internal/auth"
	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/internal/services"
	"github.com/KodeKenobi/nusuru-admin/pkg/logger"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
)

type ackRecorder struct {
	acked    int
	nacked   int
	rejected int
	requeue  bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.rejected++
	a.requeue = requeue
	return nil
}

type dispatchFunc func(ctx context.Context, req *models.DispatchRequest) (*models.DispatchReport, error)

func (f dispatchFunc) Dispatch(ctx context.Context, req *models.DispatchRequest) (*models.DispatchReport, error) {
	return f(ctx, req)
}

func newTestConsumer(d Dispatcher) *PushConsumer {
	return NewPushConsumer(nil, d, metrics.New(), logger.Discard(), 3)
}

func delivery(ack *ackRecorder, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body), MessageId: "msg-1"}
}

const validBody = `{"tokens":["A","B"],"notification":{"title":"T","body":"B"}}`

func TestHandleDeliveryAcksReport(t *testing.T) {
	var got *models.DispatchRequest
	c := newTestConsumer(dispatchFunc(func(_ context.Context, req *models.DispatchRequest) (*models.DispatchReport, error) {
		got = req
		return models.NewDispatchReport([]models.DispatchResult{
			{Token: "A", Success: true},
			{Token: "B", Error: "NotRegistered"},
		}), nil
	}))

	ack := &ackRecorder{}
	require.NoError(t, c.handleDelivery(context.Background(), delivery(ack, validBody)))

	assert.Equal(t, 1, ack.acked)
	require.NotNil(t, got)
	assert.Equal(t, "msg-1", got.RequestID)
	assert.Equal(t, []string{"A", "B"}, got.Targets())
}

func TestHandleDeliveryRejectsMalformed(t *testing.T) {
	c := newTestConsumer(dispatchFunc(func(context.Context, *models.DispatchRequest) (*models.DispatchReport, error) {
		t.Fatal("dispatcher must not be called")
		return nil, nil
	}))

	ack := &ackRecorder{}
	err := c.handleDelivery(context.Background(), delivery(ack, `{not json`))
	require.Error(t, err)
	assert.Equal(t, 1, ack.rejected)
	assert.False(t, ack.requeue)
}

func TestHandleDeliveryRejectsPermanentFailures(t *testing.T) {
	for name, dispatchErr := range map[string]error{
		"validation": &services.ValidationError{Message: services.MsgTokenRequired},
		"signing":    auth.ErrSigning.New("bad key"),
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestConsumer(dispatchFunc(func(context.Context, *models.DispatchRequest) (*models.DispatchReport, error) {
				return nil, dispatchErr
			}))

			ack := &ackRecorder{}
			err := c.handleDelivery(context.Background(), delivery(ack, validBody))
			require.Error(t, err)
			assert.Equal(t, 1, ack.rejected)
			assert.Zero(t, ack.nacked)
		})
	}
}

func TestHandleDeliveryRequeuesExchangeFailure(t *testing.T) {
	c := newTestConsumer(dispatchFunc(func(context.Context, *models.DispatchRequest) (*models.DispatchReport, error) {
		return nil, auth.ErrExchange.Wrap(errors.New("connection refused"))
	}))

	ack := &ackRecorder{}
	require.Error(t, c.handleDelivery(context.Background(), delivery(ack, validBody)))
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)

	redelivered := delivery(ack, validBody)
	redelivered.Redelivered = true
	require.Error(t, c.handleDelivery(context.Background(), redelivered))
	assert.Equal(t, 2, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestShouldRetryUsesDeathHistory(t *testing.T) {
	c := newTestConsumer(nil)

	withDeaths := func(count int64) *amqp.Delivery {
		return &amqp.Delivery{
			Redelivered: true,
			Headers: amqp.Table{
				"x-death": []interface{}{amqp.Table{"count": count}},
			},
		}
	}

	assert.True(t, c.shouldRetry(withDeaths(2)))
	assert.False(t, c.shouldRetry(withDeaths(3)))
	assert.True(t, c.shouldRetry(&amqp.Delivery{}))
	assert.False(t, c.shouldRetry(&amqp.Delivery{Redelivered: true}))
}

func TestBaseConsumerRecoversHandlerPanic(t *testing.T) {
	base := NewBaseConsumer(nil, QueueOptions{Queue: "push.queue"}, logger.Discard())
	ack := &ackRecorder{}

	base.handle(context.Background(), func(context.Context, amqp.Delivery) error {
		panic("boom")
	}, delivery(ack, validBody))

	assert.Equal(t, 1, ack.rejected)
}

func TestQueueOptionsDefaults(t *testing.T) {
	base := NewBaseConsumer(nil, QueueOptions{Queue: "push.queue"}, logger.Discard())

	assert.Equal(t, defaultExchange, base.opts.Exchange)
	assert.Equal(t, defaultRoutingKey, base.opts.RoutingKey)
	assert.Equal(t, 50, base.opts.Prefetch)
	assert.Equal(t, 5, base.opts.Workers)
}
