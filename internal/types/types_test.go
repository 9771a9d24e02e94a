package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	end := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("NewWindow spans size ending at end", func(t *testing.T) {
		w := NewWindow(end, 24*time.Hour)
		assert.Equal(t, end.Add(-24*time.Hour), w.Start)
		assert.Equal(t, end, w.End)
		assert.Equal(t, 24*time.Hour, w.Duration())
	})

	t.Run("Previous steps back contiguously", func(t *testing.T) {
		w := NewWindow(end, 24*time.Hour)
		prev := w.Previous()
		assert.Equal(t, w.Start, prev.End)
		assert.Equal(t, w.Duration(), prev.Duration())
	})
}

func TestIsIntraday(t *testing.T) {
	assert.True(t, DataTypeHeartRate.IsIntraday())
	assert.True(t, DataTypeSpO2.IsIntraday())
	assert.False(t, DataTypeSleep.IsIntraday())
	assert.False(t, DataTypeWorkout.IsIntraday())
}

func TestStatusPredicates(t *testing.T) {
	t.Run("only active backfills continue", func(t *testing.T) {
		assert.True(t, BackfillActive.ShouldContinue())
		assert.False(t, BackfillCompleted.ShouldContinue())
		assert.False(t, BackfillCancelled.ShouldContinue())
		assert.False(t, BackfillAttention.ShouldContinue())
	})

	t.Run("running and waiting syncs are runnable", func(t *testing.T) {
		assert.True(t, SyncRunning.Runnable())
		assert.True(t, SyncWaiting.Runnable())
		assert.False(t, SyncIdle.Runnable())
		assert.False(t, SyncCompleted.Runnable())
		assert.False(t, SyncFailed.Runnable())
	})
}

func TestDefaultSequences(t *testing.T) {
	// The backfill sequence is a strict subset of the pull sequence.
	pull := make(map[DataType]bool, len(DefaultPullSequence))
	for _, d := range DefaultPullSequence {
		pull[d] = true
	}
	for _, d := range DefaultBackfillSequence {
		assert.True(t, pull[d], "backfill type %s missing from pull sequence", d)
	}
}
