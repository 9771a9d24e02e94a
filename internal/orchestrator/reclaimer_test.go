package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/types"
)

func setupReclaimer(t *testing.T) (*Reclaimer, *orchFixture) {
	t.Helper()
	f := setupOrchestrator(t)
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	return NewReclaimer(f.tracker, f.store, f.orch, f.cfg, logger), f
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("leaves fresh sessions alone just under the threshold", func(t *testing.T) {
		rec, f := setupReclaimer(t)
		triggerFirstUnit(t, f)

		rec.now = func() time.Time {
			last, _ := f.tracker.LastActivity(ctx, "user-1")
			return last.Add(f.cfg.StuckThreshold - time.Second)
		}

		stats, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Scanned)
		assert.Equal(t, 0, stats.Reclaimed)

		state, err := f.tracker.UnitStateOf(ctx, "user-1", types.DataTypeProfile)
		require.NoError(t, err)
		assert.Equal(t, types.UnitTriggered, state)
	})

	t.Run("reclaims a session past the threshold", func(t *testing.T) {
		rec, f := setupReclaimer(t)
		triggerFirstUnit(t, f)

		rec.now = func() time.Time {
			last, _ := f.tracker.LastActivity(ctx, "user-1")
			return last.Add(f.cfg.StuckThreshold + time.Second)
		}

		stats, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Reclaimed)
		assert.Equal(t, 0, stats.Frozen)

		// Pending unit timed out and the pointer points back at it.
		state, err := f.tracker.UnitStateOf(ctx, "user-1", types.DataTypeProfile)
		require.NoError(t, err)
		assert.Equal(t, types.UnitTimedOut, state)

		unit, idx, err := f.tracker.CurrentUnit(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, types.DataTypeProfile, unit)
		assert.Equal(t, 0, idx)

		// Exactly one attempt spent, lock freed, step re-armed.
		attempts, err := f.tracker.AttemptCount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)

		ok, err := f.tracker.AcquireLock(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, f.runner.submitted, "backfill_step")

		// The reclaim is visible in the error log as retryable.
		errs, err := f.tracker.Errors(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.True(t, errs[0].Retryable)
	})

	t.Run("last attempt freezes the session", func(t *testing.T) {
		rec, f := setupReclaimer(t)
		triggerFirstUnit(t, f)

		// Two attempts already spent; the sweep spends the third and last.
		_, err := f.tracker.IncrementAttempts(ctx, "user-1")
		require.NoError(t, err)
		_, err = f.tracker.IncrementAttempts(ctx, "user-1")
		require.NoError(t, err)

		rec.now = func() time.Time {
			last, _ := f.tracker.LastActivity(ctx, "user-1")
			return last.Add(f.cfg.StuckThreshold + time.Second)
		}
		f.runner.submitted = nil

		stats, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Frozen)
		assert.Equal(t, 0, stats.Reclaimed)

		failed, err := f.tracker.PermanentlyFailed(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, failed)
		assert.Empty(t, f.runner.submitted)
	})

	t.Run("frozen sessions are never touched again", func(t *testing.T) {
		rec, f := setupReclaimer(t)
		triggerFirstUnit(t, f)
		require.NoError(t, f.tracker.SetPermanentlyFailed(ctx, "user-1"))

		rec.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

		stats, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Reclaimed)
		assert.Equal(t, 0, stats.Frozen)

		// State frozen exactly as it was.
		state, err := f.tracker.UnitStateOf(ctx, "user-1", types.DataTypeProfile)
		require.NoError(t, err)
		assert.Equal(t, types.UnitTriggered, state)

		attempts, err := f.tracker.AttemptCount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 0, attempts)
	})

	t.Run("resuming sessions are shielded", func(t *testing.T) {
		rec, f := setupReclaimer(t)
		triggerFirstUnit(t, f)
		require.NoError(t, f.tracker.SetResuming(ctx, "user-1"))

		rec.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

		stats, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Reclaimed)
	})

	t.Run("halted sessions holding a lock are skipped", func(t *testing.T) {
		rec, f := setupReclaimer(t)
		triggerFirstUnit(t, f)
		require.NoError(t, f.tracker.SetStatus(ctx, "user-1", types.BackfillAttention))

		rec.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

		stats, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Scanned)
		assert.Equal(t, 0, stats.Reclaimed)
	})

	t.Run("empty keyspace sweeps cleanly", func(t *testing.T) {
		rec, _ := setupReclaimer(t)

		stats, err := rec.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Scanned)
	})
}
