package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// PagePrefix namespaces cached ranking pages.
const PagePrefix = "jstats:page:"

// RedisCache stores fetched ranking pages so repeated collections within the
// TTL do not hit the site again.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Client returns the underlying Redis client
func (rc *RedisCache) Client() *redis.Client {
	return rc.client
}

// HealthCheck pings Redis to verify connection
func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// GetPage returns the cached body for url. A miss returns ok == false and a nil error.
func (rc *RedisCache) GetPage(ctx context.Context, url string) (string, bool, error) {
	body, err := rc.client.Get(ctx, PageKey(url)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get cached page")
	}
	return body, true, nil
}

// PutPage stores body for url with the given TTL.
func (rc *RedisCache) PutPage(ctx context.Context, url, body string, ttl time.Duration) error {
	if err := rc.client.Set(ctx, PageKey(url), body, ttl).Err(); err != nil {
		return errors.Wrap(err, "cache page")
	}
	return nil
}

// InvalidatePages removes cached pages for the given URLs.
func (rc *RedisCache) InvalidatePages(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = PageKey(u)
	}
	return rc.client.Del(ctx, keys...).Err()
}

// PageKey is the Redis key of a cached page.
func PageKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return PagePrefix + hex.EncodeToString(sum[:])
}
