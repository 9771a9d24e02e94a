package session

import (
	"context"
	"strconv"
	"time"

	"github.com/wearsync/internal/config"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/storage"
	"github.com/wearsync/internal/types"
)

// SyncTracker manages pull-chunk sync sessions. Progress is two indices,
// data type and chunk, stepping backward one chunk at a time from the
// session's start anchor.
type SyncTracker struct {
	store *storage.SessionStore
	cfg   *config.SyncConfig
}

// NewSyncTracker creates a sync session tracker.
func NewSyncTracker(store *storage.SessionStore, cfg *config.SyncConfig) *SyncTracker {
	return &SyncTracker{store: store, cfg: cfg}
}

// Sequence returns the configured unit order.
func (t *SyncTracker) Sequence() []types.DataType {
	return t.cfg.UnitSequence
}

// TargetChunks is the number of chunks per data type.
func (t *SyncTracker) TargetChunks() int {
	return t.cfg.TargetDays
}

// Start initializes a sync session anchored at now. An already running
// session is left untouched and Start reports false.
func (t *SyncTracker) Start(ctx context.Context, userID string, now time.Time) (bool, error) {
	keys := storage.NewSyncKeys(userID)

	val, exists, err := t.store.Get(ctx, keys.Status())
	if err != nil {
		return false, err
	}
	if exists && types.SyncStatus(val).Runnable() {
		return false, nil
	}

	ttl := t.cfg.SessionTTL
	writes := map[string]string{
		keys.Status():       string(types.SyncRunning),
		keys.UnitIndex():    "0",
		keys.ChunkIndex():   "0",
		keys.StartedAt():    formatMillis(now),
		keys.RecordsSaved(): "0",
	}
	for key, value := range writes {
		if err := t.store.Set(ctx, key, value, ttl); err != nil {
			return false, err
		}
	}
	// A restarted session starts a fresh error log.
	if err := t.store.Delete(ctx, keys.Errors(), keys.LastChunkAt()); err != nil {
		return false, err
	}

	return true, nil
}

// Status returns the session status; a missing session reads as idle.
func (t *SyncTracker) Status(ctx context.Context, userID string) (types.SyncStatus, error) {
	keys := storage.NewSyncKeys(userID)
	val, exists, err := t.store.Get(ctx, keys.Status())
	if err != nil {
		return "", err
	}
	if !exists {
		return types.SyncIdle, nil
	}
	return types.SyncStatus(val), nil
}

// SetStatus updates the session status.
func (t *SyncTracker) SetStatus(ctx context.Context, userID string, status types.SyncStatus) error {
	keys := storage.NewSyncKeys(userID)
	return t.store.Set(ctx, keys.Status(), string(status), t.cfg.SessionTTL)
}

// Position returns the current unit and chunk indices.
func (t *SyncTracker) Position(ctx context.Context, userID string) (unitIdx, chunkIdx int, err error) {
	keys := storage.NewSyncKeys(userID)
	unitIdx, err = getStoredInt(ctx, t.store, keys.UnitIndex())
	if err != nil {
		return 0, 0, err
	}
	chunkIdx, err = getStoredInt(ctx, t.store, keys.ChunkIndex())
	if err != nil {
		return 0, 0, err
	}
	if unitIdx < 0 || unitIdx >= len(t.cfg.UnitSequence) {
		return 0, 0, apperrors.NewStoreError("unit index",
			&types.ServiceError{Code: "CORRUPT_INDEX", Message: "sync unit index out of range"})
	}
	return unitIdx, chunkIdx, nil
}

// Anchor returns the fixed point chunk ranges are computed from.
func (t *SyncTracker) Anchor(ctx context.Context, userID string) (time.Time, error) {
	keys := storage.NewSyncKeys(userID)
	return getStoredMillis(ctx, t.store, keys.StartedAt())
}

// ChunkWindow computes chunk i's range for a session: chunks count backward
// from the anchor, chunk 0 being the most recent.
func (t *SyncTracker) ChunkWindow(anchor time.Time, chunkIdx int) types.Window {
	end := anchor.Add(-time.Duration(chunkIdx) * t.cfg.ChunkSize)
	return types.Window{Start: end.Add(-t.cfg.ChunkSize), End: end}
}

// Advance moves past a finished chunk. Rolls over to the next data type when
// the chunk target is reached and reports done when the sequence is
// exhausted.
func (t *SyncTracker) Advance(ctx context.Context, userID string) (done bool, err error) {
	keys := storage.NewSyncKeys(userID)

	unitIdx, chunkIdx, err := t.Position(ctx, userID)
	if err != nil {
		return false, err
	}

	chunkIdx++
	if chunkIdx < t.cfg.TargetDays {
		return false, t.store.Set(ctx, keys.ChunkIndex(), strconv.Itoa(chunkIdx), t.cfg.SessionTTL)
	}

	unitIdx++
	if unitIdx >= len(t.cfg.UnitSequence) {
		return true, t.SetStatus(ctx, userID, types.SyncCompleted)
	}

	if err := t.store.Set(ctx, keys.ChunkIndex(), "0", t.cfg.SessionTTL); err != nil {
		return false, err
	}
	return false, t.store.Set(ctx, keys.UnitIndex(), strconv.Itoa(unitIdx), t.cfg.SessionTTL)
}

// MarkChunk records a successful chunk and accumulates its record count.
func (t *SyncTracker) MarkChunk(ctx context.Context, userID string, saved int, now time.Time) error {
	keys := storage.NewSyncKeys(userID)
	if err := t.store.Set(ctx, keys.LastChunkAt(), formatMillis(now), t.cfg.SessionTTL); err != nil {
		return err
	}
	if saved > 0 {
		if _, err := t.store.IncrBy(ctx, keys.RecordsSaved(), int64(saved)); err != nil {
			return err
		}
		if err := t.store.Expire(ctx, keys.RecordsSaved(), t.cfg.SessionTTL); err != nil {
			return err
		}
	}
	return nil
}

// RecordError appends to the session's capped error log.
func (t *SyncTracker) RecordError(ctx context.Context, userID string, unitErr types.UnitError) error {
	keys := storage.NewSyncKeys(userID)
	return appendError(ctx, t.store, keys.Errors(), t.cfg.SessionTTL, unitErr)
}

// Errors returns the session's error log, newest last.
func (t *SyncTracker) Errors(ctx context.Context, userID string) ([]types.UnitError, error) {
	keys := storage.NewSyncKeys(userID)
	return readErrors(ctx, t.store, keys.Errors())
}

// SyncSnapshot is a read-only view of one sync session for the status API.
type SyncSnapshot struct {
	UserID       string            `json:"userId"`
	Status       types.SyncStatus  `json:"status"`
	Unit         types.DataType    `json:"unit,omitempty"`
	UnitIndex    int               `json:"unitIndex"`
	ChunkIndex   int               `json:"chunkIndex"`
	TargetChunks int               `json:"targetChunks"`
	StartedAt    time.Time         `json:"startedAt,omitempty"`
	LastChunkAt  time.Time         `json:"lastChunkAt,omitempty"`
	RecordsSaved int               `json:"recordsSaved"`
	Errors       []types.UnitError `json:"errors,omitempty"`
}

// Snapshot assembles the full session view. An idle session returns a
// snapshot with only the status populated.
func (t *SyncTracker) Snapshot(ctx context.Context, userID string) (*SyncSnapshot, error) {
	keys := storage.NewSyncKeys(userID)

	status, err := t.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap := &SyncSnapshot{UserID: userID, Status: status, TargetChunks: t.cfg.TargetDays}
	if status == types.SyncIdle {
		return snap, nil
	}

	unitIdx, chunkIdx, err := t.Position(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap.UnitIndex = unitIdx
	snap.ChunkIndex = chunkIdx
	snap.Unit = t.cfg.UnitSequence[unitIdx]

	if snap.StartedAt, err = t.Anchor(ctx, userID); err != nil {
		return nil, err
	}

	if val, exists, err := t.store.Get(ctx, keys.LastChunkAt()); err != nil {
		return nil, err
	} else if exists {
		if ts, perr := parseMillis(val); perr == nil {
			snap.LastChunkAt = ts
		}
	}

	if snap.RecordsSaved, err = getStoredInt(ctx, t.store, keys.RecordsSaved()); err != nil {
		return nil, err
	}
	if snap.Errors, err = t.Errors(ctx, userID); err != nil {
		return nil, err
	}

	return snap, nil
}
