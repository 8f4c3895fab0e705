package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis status cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// RedisStatusCache is a read-through Redis cache in front of a StatusFetcher.
// Status lookups are the hot external path; terminal statuses in particular
// are requested long after the message stopped changing, which makes a short
// TTL cache effective.
type RedisStatusCache struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
	fallback    StatusFetcher
}

// NewRedisStatusCache connects a new Redis-backed status cache. It pings the
// server to ensure connectivity before returning. The fallback is consulted
// on every cache miss and its result written back in the background.
func NewRedisStatusCache(
	ctx context.Context,
	cfg *RedisConfig,
	fallback StatusFetcher,
	logger zerolog.Logger,
) (*RedisStatusCache, error) {
	if fallback == nil {
		return nil, errors.New("status fallback cannot be nil")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStatusCache{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStatusCache").Logger(),
		ttl:         cfg.CacheTTL,
		fallback:    fallback,
	}, nil
}

// Fetch retrieves a message status by key. It first checks Redis; on a miss
// it fetches from the fallback, writes the result back in the background, and
// returns the value.
func (c *RedisStatusCache) Fetch(ctx context.Context, key string) (MessageStatus, error) {
	status, err := c.fetchFromRedis(ctx, key)
	if err == nil {
		return status, nil
	}

	// redis.Nil is a normal cache miss; anything else is a genuine problem,
	// but the store can still answer, so only log it.
	if !errors.Is(err, redis.Nil) {
		c.logger.Error().Err(err).Msg("Unexpected Redis error during fetch.")
	}

	sourceStatus, sourceErr := c.fallback.Fetch(ctx, key)
	if sourceErr != nil {
		return MessageStatus{}, sourceErr
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if writeErr := c.write(writeCtx, key, sourceStatus); writeErr != nil {
			c.logger.Error().Err(writeErr).Str("key", key).Msg("Failed to write status to cache in background.")
		}
	}()

	return sourceStatus, nil
}

// Invalidate drops the cached status for a key so the next Fetch reads
// through to the fallback. Callers that need a fresh status sooner than the
// TTL allows can use it; the read path never requires it.
func (c *RedisStatusCache) Invalidate(ctx context.Context, key string) error {
	if err := c.redisClient.Del(ctx, c.cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached status for %q: %w", key, err)
	}
	return nil
}

func (c *RedisStatusCache) cacheKey(key string) string {
	return "message-status:" + key
}

func (c *RedisStatusCache) fetchFromRedis(ctx context.Context, key string) (MessageStatus, error) {
	cachedData, err := c.redisClient.Get(ctx, c.cacheKey(key)).Result()
	if err != nil {
		return MessageStatus{}, err
	}

	var status MessageStatus
	if err := json.Unmarshal([]byte(cachedData), &status); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached status.")
		return MessageStatus{}, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	c.logger.Debug().Str("key", key).Msg("Status cache hit.")
	return status, nil
}

func (c *RedisStatusCache) write(ctx context.Context, key string, status MessageStatus) error {
	jsonData, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := c.redisClient.Set(ctx, c.cacheKey(key), jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set status in redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisStatusCache) Close() error {
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.redisClient.Close()
	}
	return nil
}
