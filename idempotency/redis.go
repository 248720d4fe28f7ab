package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces all index keys in Redis.
const DefaultKeyPrefix = "taskkit"

// RedisConfig holds Redis index configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix namespaces all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// TTL is the reservation lifetime. Defaults to DefaultTTL.
	TTL time.Duration
}

// RedisIndex implements Index backed by Redis. Reservations are a single
// SetNX so they are atomic across processes sharing the database.
type RedisIndex struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	ownsClient bool
	closed     atomic.Bool
}

// NewRedisIndex creates a Redis-backed index and verifies connectivity.
func NewRedisIndex(cfg RedisConfig) (*RedisIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	idx := newRedisIndex(client, cfg)
	idx.ownsClient = true
	return idx, nil
}

// NewRedisIndexWithClient wraps an existing client, typically to share a
// connection pool with a Redis task store. Close does not close the client.
func NewRedisIndexWithClient(client *redis.Client, cfg RedisConfig) *RedisIndex {
	return newRedisIndex(client, cfg)
}

func newRedisIndex(client *redis.Client, cfg RedisConfig) *RedisIndex {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisIndex{client: client, prefix: prefix, ttl: ttl}
}

func (idx *RedisIndex) key(namespace, key string) string {
	return fmt.Sprintf("%s:idem:%s:%s", idx.prefix, namespace, key)
}

// Reserve binds key to taskID within namespace unless a live binding exists.
func (idx *RedisIndex) Reserve(ctx context.Context, namespace, key, taskID string) (string, bool, error) {
	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	if idx.closed.Load() {
		return "", false, ErrClosed
	}

	ck := idx.key(namespace, key)

	// A binding can expire between the failed SetNX and the Get, so the
	// read-after-miss is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := idx.client.SetNX(ctx, ck, taskID, idx.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return taskID, true, nil
		}

		existing, err := idx.client.Get(ctx, ck).Result()
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", false, fmt.Errorf("redis get: %w", err)
		}
	}
	return "", false, fmt.Errorf("reserve %s: binding kept expiring", ck)
}

// Invalidate drops the binding for key.
func (idx *RedisIndex) Invalidate(ctx context.Context, namespace, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if idx.closed.Load() {
		return ErrClosed
	}
	if err := idx.client.Del(ctx, idx.key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close shuts down the index. The underlying client is closed only when
// this index created it.
func (idx *RedisIndex) Close() error {
	if idx.closed.Swap(true) {
		return nil
	}
	if idx.ownsClient {
		return idx.client.Close()
	}
	return nil
}

var _ Index = (*RedisIndex)(nil)
