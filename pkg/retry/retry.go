package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy decides how many times an operation is attempted and how long to
// wait in between.
type Strategy interface {
	Do(ctx context.Context, fn func() error) error
}

// Config describes the retry behavior.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// JitterFactor defaults to 0.2; a negative value disables jitter.
	JitterFactor float64
}

// Once is the single-attempt strategy.
var Once Strategy = Config{MaxAttempts: 1}

// Do makes Config usable as a Strategy.
func (c Config) Do(ctx context.Context, fn func() error) error {
	return Do(ctx, c, fn)
}

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.JitterFactor == 0 {
		c.JitterFactor = 0.2
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	return c
}

func (c Config) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.RandomizationFactor = c.JitterFactor
	b.Multiplier = 2
	// attempts bound the loop, not wall time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do executes fn and retries with exponential backoff until it succeeds, the
// attempts are exhausted, fn returns a Permanent error or the context is
// cancelled. A context that is already done yields no attempt at all.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.withDefaults()
	if err := ctx.Err(); err != nil {
		return err
	}
	b := backoff.WithMaxRetries(cfg.backOff(), uint64(cfg.MaxAttempts-1))
	return backoff.Retry(fn, backoff.WithContext(b, ctx))
}
