package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKeyPrefix namespaces all Redis keys written by taskkit.
const DefaultKeyPrefix = "taskkit"

// RedisConfig configures the Redis-backed task store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password authenticates the connection. Optional.
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
}

// RedisStore is a Redis-backed TaskStore. Task records live as JSON
// under <prefix>:task:<id>; per-status sets back Count and status
// listing; a created-time zset backs ordered listing. CAS updates run
// inside WATCH/MULTI transactions.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ownsClient bool
	closed     atomic.Bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	store := NewRedisStoreWithClient(client, cfg.KeyPrefix)
	store.ownsClient = true
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client, so the store can
// share a connection pool with the idempotency index.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: keyPrefix,
	}
}

func (s *RedisStore) taskKey(id string) string {
	return s.prefix + ":task:" + id
}

func (s *RedisStore) statusKey(status TaskStatus) string {
	return s.prefix + ":status:" + status.String()
}

func (s *RedisStore) createdKey() string {
	return s.prefix + ":created"
}

// Create stores a new task.
func (s *RedisStore) Create(ctx context.Context, task *Task) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if task == nil || task.ID == "" {
		return ErrInvalidTask
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.taskKey(task.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if !ok {
		return ErrDuplicateID
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.statusKey(task.Status), task.ID)
	pipe.ZAdd(ctx, s.createdKey(), &redis.Z{
		Score:  float64(task.CreatedAt.UnixNano()),
		Member: task.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis index task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	data, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// Update applies the mutation inside a WATCH/MULTI transaction. A
// concurrent writer between read and commit surfaces as ErrConflict,
// same as a stale status expectation.
func (s *RedisStore) Update(ctx context.Context, id string, expect TaskStatus, mutate Mutation) (*Task, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	key := s.taskKey(id)
	var updated *Task

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}

		var cur Task
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("unmarshal task: %w", err)
		}
		if expect != "" && cur.Status != expect {
			return ErrConflict
		}

		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt

		if !CanTransition(cur.Status, next.Status) {
			return ErrInvalidTransition
		}
		next.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			if next.Status != cur.Status {
				pipe.SRem(ctx, s.statusKey(cur.Status), cur.ID)
				pipe.SAdd(ctx, s.statusKey(next.Status), cur.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	err := s.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List fetches all candidate ids newest-first, hydrates them, then
// filters, sorts and paginates in memory.
func (s *RedisStore) List(ctx context.Context, filter Filter, limit, offset int) ([]*Task, int, error) {
	if s.closed.Load() {
		return nil, 0, ErrStoreClosed
	}

	var (
		ids []string
		err error
	)
	if filter.Status != "" && !filter.ActiveOnly {
		ids, err = s.client.SMembers(ctx, s.statusKey(filter.Status)).Result()
	} else {
		ids, err = s.client.ZRevRange(ctx, s.createdKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, 0, fmt.Errorf("redis list ids: %w", err)
	}
	if len(ids) == 0 {
		return []*Task{}, 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis list tasks: %w", err)
	}

	var matches []*Task
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // deleted between the id scan and the fetch
		}
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		if filter.Matches(&task) {
			t := task
			matches = append(matches, &t)
		}
	}

	total := len(matches)
	filter.Sort(matches)

	if offset >= len(matches) {
		return []*Task{}, total, nil
	}
	matches = matches[offset:]
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, total, nil
}

// Count returns the cardinality of each per-status set.
func (s *RedisStore) Count(ctx context.Context) (map[TaskStatus]int, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	counts := make(map[TaskStatus]int, len(AllStatuses))
	for _, status := range AllStatuses {
		n, err := s.client.SCard(ctx, s.statusKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis count %s: %w", status, err)
		}
		counts[status] = int(n)
	}
	return counts, nil
}

// Delete removes a task and its index entries.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.taskKey(id))
	pipe.SRem(ctx, s.statusKey(task.Status), id)
	pipe.ZRem(ctx, s.createdKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Close releases the client if this store owns it.
func (s *RedisStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

var _ TaskStore = (*RedisStore)(nil)
