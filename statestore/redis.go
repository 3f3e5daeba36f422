package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL is the default time-to-live for stored run results.
const defaultTTL = 24 * time.Hour

// RedisStore provides a Redis-backed implementation of the Store interface.
// It uses JSON serialization and supports automatic TTL-based cleanup.
// This implementation is suitable for distributed deployments where multiple
// workers write results to a shared store.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for run results.
// After this duration, results will be automatically deleted.
// Default is 24 hours. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "sparring".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed run result store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTL,
		prefix: "sparring",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Load retrieves a run result by ID from Redis.
func (s *RedisStore) Load(ctx context.Context, id string) (*RunResult, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run result: %w", err)
	}

	return &result, nil
}

// Save persists a run result to Redis with the configured TTL.
func (s *RedisStore) Save(ctx context.Context, result *RunResult) error {
	if result == nil {
		return ErrInvalidResult
	}
	if result.RunID == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}

	if err := s.client.Set(ctx, s.runKey(result.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// List returns the IDs of all stored runs by scanning the key space.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	pattern := s.runKey("*")
	keyPrefix := s.runKey("")

	var ids []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}

	return ids, nil
}

// Delete removes a run result by ID.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	deleted, err := s.client.Del(ctx, s.runKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *RedisStore) runKey(id string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, id)
}
