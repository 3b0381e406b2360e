package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/example/fulfillment/pkg/config"
)

// ErrLockHeld means another worker holds the mutual-exclusion lock.
var ErrLockHeld = errors.New("lock already held")

// CacheService is the shared redis wrapper: TTL cache, pattern invalidation
// and a SET NX EX lock. It is never durable state; any caller relying on a
// lock must stay correct if redis is entirely unavailable.
type CacheService struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewCacheService(cfg *config.RedisConfig) *CacheService {
	return &CacheService{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
	}
}

func (c *CacheService) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CacheService) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

func (c *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (c *CacheService) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// DelPattern removes every key matching the pattern, scanning in batches so
// large keyspaces never block redis.
func (c *CacheService) DelPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// AcquireLock takes a short-lived mutual-exclusion lock via SET NX EX and
// returns the token needed to release it. ErrLockHeld means another worker
// owns the key; any other error means redis itself is unhealthy and callers
// may proceed fail-open.
func (c *CacheService) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// ReleaseLock frees the lock only if the token still matches, so an expired
// lock taken over by another worker is never released from under it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *CacheService) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, c.client, []string{key}, token).Err()
}

// WithRetry runs fn with exponential backoff: the base delay doubles per
// attempt. Context cancellation stops the retries.
func (c *CacheService) WithRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Health reports the cache's availability for the health endpoint.
type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checked_at"`
}

func (c *CacheService) Health(ctx context.Context) HealthStatus {
	st := HealthStatus{CheckedAt: time.Now().Format(time.RFC3339)}
	if err := c.Ping(ctx); err != nil {
		st.Error = err.Error()
		return st
	}
	st.Healthy = true
	return st
}

func (c *CacheService) Close() error {
	return c.client.Close()
}
