package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"sms-server-go/config"
	"sms-server-go/logger"
)

const (
	lockKeyPrefix     = "sms:lock:" // String: sms:lock:{key} -> owner token
	defaultRetryDelay = 25 * time.Millisecond
	unlockTimeout     = 2 * time.Second
)

// Deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process talking to the same Redis.
// A holder that dies keeps the key for at most TTL.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
}

// NewRedisLocker creates a new RedisLocker instance
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		Client: client,
		TTL:    ttl,
		Retry:  defaultRetryDelay,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	retry := l.Retry
	if retry <= 0 {
		retry = defaultRetryDelay
	}

	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("timed out waiting for lock %s: %w", key, ctx.Err())
			}
			logger.LogError("Error acquiring lock", err, "key", redisKey)
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("timed out waiting for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done.
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if err := unlockScript.Run(ctx, l.Client, []string{redisKey}, token).Err(); err != nil {
				logger.LogWarn("Failed to release lock", "key", redisKey, "error", err)
			}
		})
	}, nil
}

// NewRedisClient creates and tests a Redis client connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.LogInfo("Successfully connected to Redis", "addr", cfg.Addr, "db", cfg.DB)
	return rdb, nil
}
