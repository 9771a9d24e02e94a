// Package storage provides the session store and repository implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wearsync/internal/config"
	apperrors "github.com/wearsync/internal/errors"
)

// SessionStore is the shared TTL-capable key-value store backing all session
// state. It is the only shared mutable resource in the system; atomic
// mutations (lock acquisition, attempt counting) use Redis primitives
// directly. The store performs no retries of its own - callers fail fast and
// the task runtime retries the whole invocation.
type SessionStore struct {
	client redis.Cmdable
	closer interface{ Close() error }
}

// NewSessionStore creates a session store backed by a new Redis connection.
func NewSessionStore(cfg *config.RedisConfig) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &SessionStore{client: client, closer: client}, nil
}

// NewSessionStoreWithClient wraps an existing client. Used by tests.
func NewSessionStoreWithClient(client redis.Cmdable) *SessionStore {
	return &SessionStore{client: client}
}

// Close closes the underlying connection if this store owns one.
func (s *SessionStore) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Ping checks if the store is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get retrieves a value by key. The second return is false when the key is
// absent.
func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStoreError("get", err)
	}
	return val, true, nil
}

// Set stores a value with a TTL.
func (s *SessionStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.NewStoreError("set", err)
	}
	return nil
}

// SetNotExists atomically stores a value only if the key is absent. Returns
// true when the value was stored. This is the lock acquisition primitive.
func (s *SessionStore) SetNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, apperrors.NewStoreError("setnx", err)
	}
	return ok, nil
}

// Incr atomically increments a counter, creating it at 0 first if absent.
func (s *SessionStore) Incr(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperrors.NewStoreError("incr", err)
	}
	return val, nil
}

// IncrBy atomically adds n to a counter, creating it at 0 first if absent.
func (s *SessionStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	val, err := s.client.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, apperrors.NewStoreError("incrby", err)
	}
	return val, nil
}

// Delete removes one or more keys.
func (s *SessionStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.NewStoreError("delete", err)
	}
	return nil
}

// Expire sets a TTL on an existing key. A missing key is not an error.
func (s *SessionStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return apperrors.NewStoreError("expire", err)
	}
	return nil
}

// Scan iterates keys matching the prefix via the cursor-based SCAN command
// and invokes fn for each. It tolerates concurrent mutation: a single pass
// may see duplicates or miss keys, which is acceptable for periodic sweeps.
func (s *SessionStore) Scan(ctx context.Context, prefix string, fn func(key string) error) error {
	var cursor uint64
	pattern := prefix + "*"

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return apperrors.NewStoreError("scan", err)
		}

		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
