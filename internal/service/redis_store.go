// internal/service/redis_store.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

const defaultKeyPrefix = "totem:task:"

// RedisTaskStore shares task records between service replicas. Each task is
// a JSON value under prefix+id and expires after ttl.
type RedisTaskStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ TaskStore = (*RedisTaskStore)(nil)

// NewRedisTaskStore wraps an existing client. An empty prefix uses "totem:task:".
func NewRedisTaskStore(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisTaskStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisTaskStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.Named("redis_tasks"),
	}
}

func (r *RedisTaskStore) key(id string) string { return r.prefix + id }

func (r *RedisTaskStore) Create(ctx context.Context, task schemas.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := r.client.Set(ctx, r.key(task.TaskID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", task.TaskID, err)
	}
	return nil
}

func (r *RedisTaskStore) Get(ctx context.Context, id string) (schemas.Task, error) {
	payload, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return schemas.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return schemas.Task{}, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	var t schemas.Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return schemas.Task{}, fmt.Errorf("failed to decode task %s: %w", id, err)
	}
	return t, nil
}

// Update overwrites an existing task and refreshes its TTL.
func (r *RedisTaskStore) Update(ctx context.Context, task schemas.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	ok, err := r.client.SetXX(ctx, r.key(task.TaskID), payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.TaskID, err)
	}
	if !ok {
		return ErrTaskNotFound
	}
	return nil
}

// Cleanup scans the prefix and deletes finished tasks older than cutoff.
// Keys without a TTL are the only ones that can outlive it.
func (r *RedisTaskStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to load %s: %w", key, err)
		}
		var t schemas.Task
		if err := json.Unmarshal(payload, &t); err != nil {
			r.logger.Warn("Dropping undecodable task record.", zap.String("key", key), zap.Error(err))
			r.client.Del(ctx, key)
			removed++
			continue
		}
		if expired(t, cutoff) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("failed to delete %s: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan task keys: %w", err)
	}
	return removed, nil
}
