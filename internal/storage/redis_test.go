package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a SessionStore backed by miniredis.
func setupTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSessionStoreWithClient(client), mr
}

func TestSessionStoreGetSet(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	t.Run("missing key reads as absent", func(t *testing.T) {
		_, found, err := store.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k", "v", time.Minute))

		val, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", val)
	})

	t.Run("value expires with its TTL", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "short", "v", time.Second))
		mr.FastForward(2 * time.Second)

		_, found, err := store.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestSessionStoreSetNotExists(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	t.Run("first acquire wins", func(t *testing.T) {
		ok, err := store.SetNotExists(ctx, "lock", "1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("second acquire loses", func(t *testing.T) {
		ok, err := store.SetNotExists(ctx, "lock", "1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired lock can be reacquired", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)

		ok, err := store.SetNotExists(ctx, "lock", "1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSessionStoreCounters(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	val, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = store.IncrBy(ctx, "counter", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(12), val)
}

func TestSessionStoreScan(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "bf:lock:a", "1", time.Minute))
	require.NoError(t, store.Set(ctx, "bf:lock:b", "1", time.Minute))
	require.NoError(t, store.Set(ctx, "sync:status:a", "running", time.Minute))

	var seen []string
	err := store.Scan(ctx, "bf:lock:", func(key string) error {
		seen = append(seen, key)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bf:lock:a", "bf:lock:b"}, seen)
}

func TestSessionStoreDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, store.Set(ctx, "b", "1", time.Minute))

	require.NoError(t, store.Delete(ctx, "a", "b", "missing"))

	_, found, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}
