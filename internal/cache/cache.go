package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a small cache-aside contract. A miss is reported as an empty
// string, not an error.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GenerateKey(operation, key string) string
}

type redisCache struct {
	client      *redis.Client
	serviceName string
}

// NewRedisCache connects a cache to the given redis address.
func NewRedisCache(addr, serviceName string) Cache {
	return &redisCache{
		client:      redis.NewClient(&redis.Options{Addr: addr}),
		serviceName: serviceName,
	}
}

func (r *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return value, nil
}

func (r *redisCache) GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.serviceName, operation, key)
}
