package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/i474232898/weather-collector/internal/weather"
)

// ErrCacheMiss is returned by a Cache when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores serialized provider readings.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedProvider serves repeated lookups of the same location from a cache
// for ttl, so collectors polling one city share a single upstream call.
// Cache failures are logged and bypassed.
type CachedProvider struct {
	next   weather.Provider
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProvider(next weather.Provider, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, logger: logger.Named("cache")}
}

func (p *CachedProvider) Name() string {
	return p.next.Name()
}

func (p *CachedProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	key := "weather:" + p.next.Name() + ":" + loc.Key()

	if b, err := p.cache.Get(ctx, key); err == nil {
		var cached weather.ProviderReading
		if err := json.Unmarshal(b, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		p.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	reading, err := p.next.Fetch(ctx, loc)
	if err != nil {
		return weather.ProviderReading{}, err
	}

	if b, err := json.Marshal(reading); err == nil {
		if err := p.cache.Set(ctx, key, b, p.ttl); err != nil {
			p.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return reading, nil
}
