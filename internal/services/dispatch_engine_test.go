package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/pkg/logger"
	"github.com/KodeKenobi/nusuru-admin/pkg/metrics"
	"github.com/KodeKenobi/nusuru-admin/pkg/retry"
)

type sendFunc func(ctx context.Context, accessToken string, msg *Message) (models.DispatchResult, error)

type fakeSender struct {
	send  sendFunc
	calls atomic.Int32
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, accessToken string, msg *Message) (models.DispatchResult, error) {
	f.calls.Add(1)
	return f.send(ctx, accessToken, msg)
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			total := 0.0
			for _, metric := range mf.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
			return total
		}
	}
	return 0
}

func newTestEngine(sender Sender, strategy retry.Strategy, limit int) *DispatchEngine {
	return NewDispatchEngine(sender, strategy, limit, metrics.New(), logger.Discard())
}

func TestDispatchPreservesOrder(t *testing.T) {
	targets := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	sender := &fakeSender{send: func(_ context.Context, _ string, msg *Message) (models.DispatchResult, error) {
		// earlier tokens finish last
		var idx int
		fmt.Sscanf(msg.Token, "t%d", &idx)
		time.Sleep(time.Duration(len(targets)-idx) * 5 * time.Millisecond)
		return models.DispatchResult{Token: msg.Token, Success: idx%2 == 0, MessageID: "m-" + msg.Token}, nil
	}}

	results := newTestEngine(sender, nil, 0).Dispatch(context.Background(), "tok", targets, models.Notification{Title: "T", Body: "B"}, nil)

	require.Len(t, results, len(targets))
	for i, res := range results {
		assert.Equal(t, targets[i], res.Token)
		assert.Equal(t, i%2 == 0, res.Success)
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	sender := &fakeSender{send: func(_ context.Context, _ string, msg *Message) (models.DispatchResult, error) {
		switch msg.Token {
		case "bad":
			return models.DispatchResult{Token: msg.Token, Error: "NotRegistered"}, nil
		case "down":
			return models.DispatchResult{Token: msg.Token, Error: "connection reset"}, ErrDelivery.New("reset")
		case "panic":
			panic("sender exploded")
		}
		return models.DispatchResult{Token: msg.Token, Success: true, MessageID: "ok"}, nil
	}}

	results := newTestEngine(sender, nil, 0).Dispatch(context.Background(), "tok",
		[]string{"good", "bad", "down", "panic", "good"}, models.Notification{Title: "T", Body: "B"}, nil)

	require.Len(t, results, 5)
	assert.True(t, results[0].Success)
	assert.Equal(t, "NotRegistered", results[1].Error)
	assert.Equal(t, "connection reset", results[2].Error)
	assert.Equal(t, "panic", results[3].Token)
	assert.Contains(t, results[3].Error, "sender exploded")
	assert.True(t, results[4].Success)
	assert.Empty(t, results[4].Error)
}

func TestDispatchRespectsConcurrencyLimit(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	sender := &fakeSender{send: func(_ context.Context, _ string, msg *Message) (models.DispatchResult, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return models.DispatchResult{Token: msg.Token, Success: true}, nil
	}}

	targets := make([]string, 12)
	for i := range targets {
		targets[i] = fmt.Sprintf("t%d", i)
	}
	results := newTestEngine(sender, nil, 3).Dispatch(context.Background(), "tok", targets, models.Notification{Title: "T", Body: "B"}, nil)

	assert.Len(t, results, 12)
	assert.LessOrEqual(t, peak, 3)
	assert.EqualValues(t, 12, sender.calls.Load())
}

func TestDispatchSingleAttemptByDefault(t *testing.T) {
	sender := &fakeSender{send: func(_ context.Context, _ string, msg *Message) (models.DispatchResult, error) {
		return models.DispatchResult{Token: msg.Token, Error: "Internal"}, ErrDelivery.New("fcm returned 500")
	}}

	results := newTestEngine(sender, nil, 0).Dispatch(context.Background(), "tok", []string{"a"}, models.Notification{Title: "T", Body: "B"}, nil)

	assert.EqualValues(t, 1, sender.calls.Load())
	assert.Equal(t, "Internal", results[0].Error)
}

func TestDispatchRetriesWithStrategy(t *testing.T) {
	var attempts atomic.Int32
	sender := &fakeSender{send: func(_ context.Context, _ string, msg *Message) (models.DispatchResult, error) {
		if attempts.Add(1) < 3 {
			return models.DispatchResult{Token: msg.Token, Error: "Unavailable"}, ErrDelivery.New("fcm returned 503")
		}
		return models.DispatchResult{Token: msg.Token, Success: true, MessageID: "m1"}, nil
	}}
	strategy := retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, JitterFactor: -1}
	engine := newTestEngine(sender, strategy, 0)

	results := engine.Dispatch(context.Background(), "tok", []string{"a"}, models.Notification{Title: "T", Body: "B"}, nil)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Empty(t, results[0].Error)
	assert.EqualValues(t, 3, sender.calls.Load())
	assert.Equal(t, 2.0, counterValue(t, engine.metrics, "push_dispatch_delivery_retries_total"))
}

func TestDispatchCancelledContext(t *testing.T) {
	sender := &fakeSender{send: func(ctx context.Context, _ string, msg *Message) (models.DispatchResult, error) {
		return models.DispatchResult{Token: msg.Token, Error: ctx.Err().Error()}, ErrDelivery.Wrap(ctx.Err())
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	strategy := retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	results := newTestEngine(sender, strategy, 0).Dispatch(ctx, "tok", []string{"a", "b"}, models.Notification{Title: "T", Body: "B"}, nil)

	require.Len(t, results, 2)
	for i, res := range results {
		assert.Equal(t, []string{"a", "b"}[i], res.Token)
		assert.False(t, res.Success)
		assert.Equal(t, context.Canceled.Error(), res.Error)
	}
}
