package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
)

// tokenCache keeps operator access tokens in Redis, with an in-process fallback
// when Redis is not configured.
type tokenCache struct {
	mu    sync.Mutex
	local map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func newTokenCache() *tokenCache {
	return &tokenCache{local: make(map[string]cachedToken)}
}

func tokenKey(cfg *models.MomoProvider, product string) string {
	return fmt.Sprintf("momo:token:%s:%s:%d:%s", cfg.Code, cfg.CompanyId, cfg.ID, product)
}

func (c *tokenCache) get(ctx context.Context, key string) (string, bool) {
	if v, ok, err := config.GetRedisValue(ctx, key); err == nil && ok {
		return v, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.local[key]
	if !ok || time.Now().After(t.expiresAt) {
		return "", false
	}
	return t.value, true
}

// set stores the token until shortly before the operator expires it.
func (c *tokenCache) set(ctx context.Context, key, value string, expiresIn time.Duration) {
	ttl := expiresIn - 30*time.Second
	if ttl <= 0 {
		ttl = expiresIn / 2
	}
	if ttl <= 0 {
		return
	}
	_ = config.SetRedisValue(ctx, key, value, ttl)
	c.mu.Lock()
	c.local[key] = cachedToken{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *tokenCache) invalidate(ctx context.Context, key string) {
	_ = config.RemoveRedisKey(ctx, key)
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
}

// fetch returns a cached token or obtains a new one with login.
func (c *tokenCache) fetch(ctx context.Context, key string, login func(context.Context) (string, time.Duration, error)) (string, error) {
	if v, ok := c.get(ctx, key); ok {
		return v, nil
	}
	token, expiresIn, err := login(ctx)
	if err != nil {
		return "", err
	}
	c.set(ctx, key, token, expiresIn)
	return token, nil
}
