package cache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// optionsFromEnv assembles the Redis connection options. REDIS_ADDR defaults
// to localhost:6379 when unset; REDIS_PASSWORD, REDIS_DB and REDIS_POOL_SIZE
// are optional. Pool size matters here because every character list request
// may touch the cache.
func optionsFromEnv() *redis.Options {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}

	opts := &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
		if parsed, err := strconv.Atoi(rawDB); err == nil {
			opts.DB = parsed
		}
	}
	if rawPool := strings.TrimSpace(os.Getenv("REDIS_POOL_SIZE")); rawPool != "" {
		if parsed, err := strconv.Atoi(rawPool); err == nil && parsed > 0 {
			opts.PoolSize = parsed
		}
	}
	return opts
}

// GetRedisClient returns a singleton Redis client configured from environment
// variables. Callers treat an error as "cache disabled": the character list
// endpoints fall back to the database when Redis is unreachable.
func GetRedisClient() (*redis.Client, error) {
	redisOnce.Do(func() {
		opts := optionsFromEnv()
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			redisErr = fmt.Errorf("cache: ping redis %s failed: %w", opts.Addr, err)
			_ = client.Close()
			return
		}

		redisClient = client
	})

	return redisClient, redisErr
}

// Enabled reports whether a usable Redis client was initialized.
func Enabled() bool {
	client, err := GetRedisClient()
	return err == nil && client != nil
}

// Close releases the cached Redis connection. Mainly useful for tests.
func Close() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}
