package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// m2mTokenKey is where the cached service token lives in Redis.
	m2mTokenKey = "m2m_token"
	// tokenExpiryBuffer refreshes the token this long before it actually expires.
	tokenExpiryBuffer = 60 * time.Second
)

// TokenCache is one cached token with its expiry.
type TokenCache struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValid reports whether the token is usable with the buffer applied.
func (tc *TokenCache) IsValid() bool {
	if tc == nil || tc.Token == "" {
		return false
	}
	return time.Now().Add(tokenExpiryBuffer).Before(tc.ExpiresAt)
}

// RedisTokenCache stores the M2M token in Redis so restarts and replicas
// share one token instead of hammering the auth provider.
type RedisTokenCache struct {
	Client *redis.Client
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{Client: client}
}

// GetToken returns the cached token, or nil when none is cached.
func (c *RedisTokenCache) GetToken(ctx context.Context) (*TokenCache, error) {
	tokenJSON, err := c.Client.Get(ctx, m2mTokenKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var cached TokenCache
	if err := json.Unmarshal([]byte(tokenJSON), &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached token: %w", err)
	}
	return &cached, nil
}

// SetToken caches the token until its expiry.
func (c *RedisTokenCache) SetToken(ctx context.Context, token string, expiresAt time.Time) error {
	payload, err := json.Marshal(TokenCache{Token: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.Client.Set(ctx, m2mTokenKey, payload, ttl).Err()
}
