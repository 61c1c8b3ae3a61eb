package cache

import (
	"context"
	"fmt"
	"time"

	"example.com/backstage/services/irrigation/config"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// ErrCacheMiss is returned by Get when the key does not exist
var ErrCacheMiss = errors.New("cache miss")

// RedisClient is an interface for Redis operations
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// redisClient implements the RedisClient interface
type redisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &redisClient{client: client}, nil
}

// Get retrieves a value from Redis
func (r *redisClient) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	return value, errors.Wrapf(err, "redis get %s", key)
}

// Set stores a value in Redis with expiration
func (r *redisClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return errors.Wrapf(r.client.Set(ctx, key, value, expiration).Err(), "redis set %s", key)
}

// Delete removes a key from Redis
func (r *redisClient) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.client.Del(ctx, key).Err(), "redis del %s", key)
}

// Close closes the Redis connection
func (r *redisClient) Close() error {
	return r.client.Close()
}

// noopClient is used when Redis is disabled. Every read misses.
type noopClient struct{}

// NewNoopClient returns a RedisClient that stores nothing
func NewNoopClient() RedisClient {
	return noopClient{}
}

func (noopClient) Get(ctx context.Context, key string) (string, error) {
	return "", ErrCacheMiss
}

func (noopClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return nil
}

func (noopClient) Delete(ctx context.Context, key string) error {
	return nil
}

func (noopClient) Close() error {
	return nil
}
