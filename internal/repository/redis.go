package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"
)

const tokenKeyPrefix = "push:oauth:token:"

// RedisRepository shares access tokens between service instances.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry"`
}

// Get returns the token stored under key, or nil when there is none.
func (r *RedisRepository) Get(ctx context.Context, key string) (*oauth2.Token, error) {
	raw, err := r.client.Get(ctx, tokenKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ct cachedToken
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: ct.AccessToken,
		TokenType:   ct.TokenType,
		Expiry:      ct.Expiry,
	}, nil
}

// Set stores token until its expiry. Tokens that are already expired are
// not stored.
func (r *RedisRepository) Set(ctx context.Context, key string, token *oauth2.Token) error {
	ttl := time.Until(token.Expiry)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(cachedToken{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	})
	if err != nil {
		return err
	}
	return r.client.SetEX(ctx, tokenKeyPrefix+key, raw, ttl).Err()
}
