package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wearsync/internal/config"
	"github.com/wearsync/internal/storage"
	"github.com/wearsync/internal/types"
)

var syncTestSequence = []types.DataType{
	types.DataTypeSleep,
	types.DataTypeHeartRate,
}

func setupSyncTracker(t *testing.T) *SyncTracker {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.NewSessionStoreWithClient(client)

	cfg := &config.SyncConfig{
		UnitSequence:       syncTestSequence,
		ChunkSize:          24 * time.Hour,
		TargetDays:         3,
		SessionTTL:         7 * 24 * time.Hour,
		ChunkDelay:         time.Second,
		IntradayChunkDelay: 2 * time.Second,
		RateLimitBackoff:   time.Minute,
	}
	return NewSyncTracker(store, cfg)
}

func TestSyncStart(t *testing.T) {
	tracker := setupSyncTracker(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	t.Run("idle session starts", func(t *testing.T) {
		status, err := tracker.Status(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.SyncIdle, status)

		started, err := tracker.Start(ctx, "user-1", now)
		require.NoError(t, err)
		assert.True(t, started)

		status, err = tracker.Status(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.SyncRunning, status)
	})

	t.Run("running session keeps its position", func(t *testing.T) {
		_, err := tracker.Advance(ctx, "user-1")
		require.NoError(t, err)

		started, err := tracker.Start(ctx, "user-1", now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, started)

		_, chunkIdx, err := tracker.Position(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 1, chunkIdx)
	})

	t.Run("completed session restarts from zero", func(t *testing.T) {
		require.NoError(t, tracker.SetStatus(ctx, "user-1", types.SyncCompleted))

		started, err := tracker.Start(ctx, "user-1", now.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, started)

		unitIdx, chunkIdx, err := tracker.Position(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 0, unitIdx)
		assert.Equal(t, 0, chunkIdx)
	})
}

func TestSyncAdvance(t *testing.T) {
	tracker := setupSyncTracker(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	_, err := tracker.Start(ctx, "user-1", now)
	require.NoError(t, err)

	t.Run("walks chunks then rolls to the next unit", func(t *testing.T) {
		// TargetDays=3: two advances stay on sleep, the third moves on.
		for i := 0; i < 2; i++ {
			done, err := tracker.Advance(ctx, "user-1")
			require.NoError(t, err)
			assert.False(t, done)
		}

		unitIdx, chunkIdx, err := tracker.Position(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 0, unitIdx)
		assert.Equal(t, 2, chunkIdx)

		done, err := tracker.Advance(ctx, "user-1")
		require.NoError(t, err)
		assert.False(t, done)

		unitIdx, chunkIdx, err = tracker.Position(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 1, unitIdx)
		assert.Equal(t, 0, chunkIdx)
	})

	t.Run("exhausting the sequence completes the session", func(t *testing.T) {
		var done bool
		for i := 0; i < 3; i++ {
			var err error
			done, err = tracker.Advance(ctx, "user-1")
			require.NoError(t, err)
		}
		assert.True(t, done)

		status, err := tracker.Status(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.SyncCompleted, status)
	})
}

func TestChunkWindow(t *testing.T) {
	tracker := setupSyncTracker(t)
	anchor := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	w0 := tracker.ChunkWindow(anchor, 0)
	assert.Equal(t, anchor, w0.End)
	assert.Equal(t, anchor.Add(-24*time.Hour), w0.Start)

	w2 := tracker.ChunkWindow(anchor, 2)
	assert.Equal(t, anchor.Add(-48*time.Hour), w2.End)
	assert.Equal(t, anchor.Add(-72*time.Hour), w2.Start)

	// Chunks tile the range without gaps.
	w1 := tracker.ChunkWindow(anchor, 1)
	assert.Equal(t, w0.Start, w1.End)
	assert.Equal(t, w1.Start, w2.End)
}

func TestSyncSnapshot(t *testing.T) {
	tracker := setupSyncTracker(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	t.Run("idle snapshot has only status", func(t *testing.T) {
		snap, err := tracker.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.SyncIdle, snap.Status)
	})

	t.Run("running snapshot has position and counters", func(t *testing.T) {
		_, err := tracker.Start(ctx, "user-1", now)
		require.NoError(t, err)
		require.NoError(t, tracker.MarkChunk(ctx, "user-1", 12, now.Add(time.Minute)))

		snap, err := tracker.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.SyncRunning, snap.Status)
		assert.Equal(t, types.DataTypeSleep, snap.Unit)
		assert.Equal(t, now, snap.StartedAt)
		assert.Equal(t, 12, snap.RecordsSaved)
		assert.Equal(t, now.Add(time.Minute), snap.LastChunkAt)
	})
}
