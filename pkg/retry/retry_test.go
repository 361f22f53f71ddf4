package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		JitterFactor:   -1,
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return errors.New("still failing")
	})
	require.EqualError(t, err, "still failing")
	assert.Equal(t, 2, calls)
}

func TestOnceMakesSingleAttempt(t *testing.T) {
	calls := 0
	err := Once.Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPermanentStopsRetrying(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := fastConfig(5).Do(context.Background(), func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoStopsWaitingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, JitterFactor: -1}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do kept waiting after cancel")
	}
}

func TestBackOffFromConfig(t *testing.T) {
	b := Config{}.withDefaults().backOff()
	assert.Equal(t, 500*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 10*time.Second, b.MaxInterval)
	assert.Equal(t, 0.2, b.RandomizationFactor)
	assert.Equal(t, 2.0, b.Multiplier)
	assert.Zero(t, b.MaxElapsedTime)

	for i := 0; i < 100; i++ {
		b.Reset()
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 400*time.Millisecond)
		assert.LessOrEqual(t, d, 600*time.Millisecond)
	}

	exact := fastConfig(3).withDefaults().backOff()
	assert.Zero(t, exact.RandomizationFactor)
	assert.Equal(t, time.Millisecond, exact.NextBackOff())
	assert.Equal(t, 2*time.Millisecond, exact.NextBackOff())
	assert.Equal(t, 2*time.Millisecond, exact.NextBackOff())
}
