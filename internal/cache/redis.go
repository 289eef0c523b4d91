package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	sibylerr "github.com/sibyl-search/sibyl/internal/errors"
)

// RedisBackend is a Backend on a shared redis instance, letting multiple
// replicas share one result cache.
type RedisBackend struct {
	client     *redis.Client
	defaultTTL time.Duration
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend connects to redis at addr. Accepts either host:port or a
// redis:// URL. The connection is verified before returning.
func NewRedisBackend(ctx context.Context, addr, password string, db int, defaultTTL time.Duration) (*RedisBackend, error) {
	var client *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, sibylerr.ConfigError("invalid redis URL", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, sibylerr.CacheBackend(err).WithDetail("addr", addr)
	}

	return &RedisBackend{client: client, defaultTTL: defaultTTL}, nil
}

// Get returns the value for key.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sibylerr.CacheBackend(err)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return sibylerr.CacheBackend(err)
	}
	return nil
}

// Delete removes a key.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return sibylerr.CacheBackend(err)
	}
	return nil
}

// Flush removes all entries in the selected database.
func (r *RedisBackend) Flush(ctx context.Context) error {
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		return sibylerr.CacheBackend(err)
	}
	return nil
}

// Close releases the client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
