package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// TokenStore persists access tokens between dispatches. Get returns nil, nil
// on a miss.
type TokenStore interface {
	Get(ctx context.Context, key string) (*oauth2.Token, error)
	Set(ctx context.Context, key string, token *oauth2.Token) error
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*oauth2.Token)}
}

func (m *MemoryTokenStore) Get(_ context.Context, key string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[key], nil
}

func (m *MemoryTokenStore) Set(_ context.Context, key string, token *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token
	return nil
}

// CachedTokenSource reuses a bearer token until shortly before it expires.
// Concurrent misses share one refresh.
type CachedTokenSource struct {
	src   TokenSource
	store TokenStore
	key   string
	skew  time.Duration
	log   *slog.Logger
	now   func() time.Time
	group singleflight.Group
}

// NewCachedTokenSource caches tokens from src under key. Tokens are treated
// as expired skew before their declared expiry.
func NewCachedTokenSource(src TokenSource, store TokenStore, key string, skew time.Duration, log *slog.Logger) *CachedTokenSource {
	return &CachedTokenSource{
		src:   src,
		store: store,
		key:   key,
		skew:  skew,
		log:   log,
		now:   time.Now,
	}
}

func (c *CachedTokenSource) Token(ctx context.Context) (*oauth2.Token, error) {
	if token := c.lookup(ctx); token != nil {
		return token, nil
	}

	// The shared refresh must not die with whichever caller started it; the
	// exchanger's client timeout bounds it instead.
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.key, func() (any, error) {
		if token := c.lookup(refreshCtx); token != nil {
			return token, nil
		}
		token, err := c.src.Token(refreshCtx)
		if err != nil {
			return nil, err
		}
		if !token.Expiry.IsZero() {
			if err := c.store.Set(refreshCtx, c.key, token); err != nil {
				c.log.Warn("failed to cache access token", slog.Any("error", err))
			}
		}
		return token, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

func (c *CachedTokenSource) lookup(ctx context.Context) *oauth2.Token {
	token, err := c.store.Get(ctx, c.key)
	if err != nil {
		c.log.Warn("failed to read cached access token", slog.Any("error", err))
		return nil
	}
	if token == nil || token.AccessToken == "" || token.Expiry.IsZero() {
		return nil
	}
	if !c.now().Add(c.skew).Before(token.Expiry) {
		return nil
	}
	return token
}
