package rates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/walletmvp/backend/internal/models"
	"go.uber.org/zap"
)

// CacheKey is where the serialized rate list lives in redis.
const CacheKey = "rates:snapshot"

// RedisCache is a read-through Source that keeps the last rate list in redis.
// A nil client turns it into a plain pass-through.
type RedisCache struct {
	next   Source
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(next Source, client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{next: next, redis: client, ttl: ttl, logger: logger}
}

// ListRates serves from redis when possible. Cache errors fall through to the
// underlying source; they never fail the read.
func (c *RedisCache) ListRates(ctx context.Context) ([]models.ExchangeRate, error) {
	if c.redis == nil {
		return c.next.ListRates(ctx)
	}

	data, err := c.redis.Get(ctx, CacheKey).Bytes()
	switch {
	case err == nil:
		var cached []models.ExchangeRate
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			return cached, nil
		}
		c.logger.Warn("[RATES] discarding undecodable cache entry")
	case err != redis.Nil:
		c.logger.Warn("[RATES] cache read failed", zap.Error(err))
	}

	rates, err := c.next.ListRates(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(rates)
	if err != nil {
		return rates, nil
	}
	if err := c.redis.Set(ctx, CacheKey, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("[RATES] cache write failed", zap.Error(err))
	}
	return rates, nil
}

// Invalidate drops the cached list so the next read hits the source.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, CacheKey).Err()
}
