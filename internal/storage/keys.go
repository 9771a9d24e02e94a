package storage

import (
	"fmt"
	"strings"

	"github.com/wearsync/internal/types"
)

// Key prefixes for the two session keyspaces. Every component that builds or
// decomposes a session key goes through this file; nothing else splits key
// strings.
const (
	backfillPrefix = "bf:"
	syncPrefix     = "sync:"

	backfillLockPrefix = backfillPrefix + "lock:"
)

// BackfillKeys builds keys for one user's backfill session.
type BackfillKeys struct {
	userID string
}

// NewBackfillKeys returns a key builder for the given user.
func NewBackfillKeys(userID string) BackfillKeys {
	return BackfillKeys{userID: userID}
}

// Lock is the boolean-with-TTL driver lock.
func (k BackfillKeys) Lock() string { return backfillLockPrefix + k.userID }

// Status holds the session's BackfillStatus.
func (k BackfillKeys) Status() string { return backfillPrefix + "status:" + k.userID }

// WindowStart holds the current window's start as unix millis.
func (k BackfillKeys) WindowStart() string { return backfillPrefix + "window:" + k.userID }

// UnitIndex holds the current unit pointer within the sequence.
func (k BackfillKeys) UnitIndex() string { return backfillPrefix + "unitidx:" + k.userID }

// WindowsCompleted counts fully advanced windows.
func (k BackfillKeys) WindowsCompleted() string { return backfillPrefix + "windows_done:" + k.userID }

// AttemptCount counts reclaimer-driven recoveries.
func (k BackfillKeys) AttemptCount() string { return backfillPrefix + "attempts:" + k.userID }

// PermanentlyFailed marks a session past its recovery bound.
func (k BackfillKeys) PermanentlyFailed() string { return backfillPrefix + "failed:" + k.userID }

// CreatedAt anchors staleness detection before any unit activity exists.
func (k BackfillKeys) CreatedAt() string { return backfillPrefix + "created:" + k.userID }

// Resuming shields a deliberate operator resume from the reclaimer.
func (k BackfillKeys) Resuming() string { return backfillPrefix + "resuming:" + k.userID }

// Errors holds the capped JSON error list.
func (k BackfillKeys) Errors() string { return backfillPrefix + "errors:" + k.userID }

// CorrelationToken holds the token echoed by the provider callback.
func (k BackfillKeys) CorrelationToken() string { return backfillPrefix + "token:" + k.userID }

// UnitState holds the UnitState for one data type in the current window.
func (k BackfillKeys) UnitState(unit types.DataType) string {
	return fmt.Sprintf("%sunit:%s:%s:state", backfillPrefix, k.userID, unit)
}

// UnitTriggeredAt holds the unit's trigger timestamp as unix millis.
func (k BackfillKeys) UnitTriggeredAt(unit types.DataType) string {
	return fmt.Sprintf("%sunit:%s:%s:triggered", backfillPrefix, k.userID, unit)
}

// UnitCompletedAt holds the unit's completion timestamp as unix millis.
func (k BackfillKeys) UnitCompletedAt(unit types.DataType) string {
	return fmt.Sprintf("%sunit:%s:%s:completed", backfillPrefix, k.userID, unit)
}

// SessionKeys lists every key the session can own, for TTL refresh. The
// driver lock is deliberately absent: it keeps its own shorter TTL so a dead
// driver cannot hold a session beyond the lock bound.
func (k BackfillKeys) SessionKeys(sequence []types.DataType) []string {
	keys := []string{
		k.Status(),
		k.WindowStart(),
		k.UnitIndex(),
		k.WindowsCompleted(),
		k.AttemptCount(),
		k.PermanentlyFailed(),
		k.CreatedAt(),
		k.Errors(),
		k.CorrelationToken(),
	}
	for _, unit := range sequence {
		keys = append(keys, k.UnitState(unit), k.UnitTriggeredAt(unit), k.UnitCompletedAt(unit))
	}
	return keys
}

// BackfillLockPrefix is the scan prefix covering all backfill session locks.
func BackfillLockPrefix() string { return backfillLockPrefix }

// ParseBackfillLockKey extracts the user id from a lock key produced by
// BackfillKeys.Lock.
func ParseBackfillLockKey(key string) (string, error) {
	if !strings.HasPrefix(key, backfillLockPrefix) {
		return "", fmt.Errorf("not a backfill lock key: %s", key)
	}
	userID := key[len(backfillLockPrefix):]
	if userID == "" {
		return "", fmt.Errorf("backfill lock key has empty user id: %s", key)
	}
	return userID, nil
}

// SyncKeys builds keys for one user's pull-chunk sync session.
type SyncKeys struct {
	userID string
}

// NewSyncKeys returns a key builder for the given user.
func NewSyncKeys(userID string) SyncKeys {
	return SyncKeys{userID: userID}
}

// Status holds the session's SyncStatus.
func (k SyncKeys) Status() string { return syncPrefix + "status:" + k.userID }

// UnitIndex holds the current data type pointer.
func (k SyncKeys) UnitIndex() string { return syncPrefix + "unitidx:" + k.userID }

// ChunkIndex holds the day offset within the current data type.
func (k SyncKeys) ChunkIndex() string { return syncPrefix + "chunkidx:" + k.userID }

// StartedAt anchors the chunk ranges; chunks step backward from it.
func (k SyncKeys) StartedAt() string { return syncPrefix + "started:" + k.userID }

// LastChunkAt records the most recent successful chunk.
func (k SyncKeys) LastChunkAt() string { return syncPrefix + "lastchunk:" + k.userID }

// RecordsSaved accumulates saved-record counts across chunks.
func (k SyncKeys) RecordsSaved() string { return syncPrefix + "saved:" + k.userID }

// Errors holds the capped JSON error list.
func (k SyncKeys) Errors() string { return syncPrefix + "errors:" + k.userID }

// SessionKeys lists every key the session can own, for TTL refresh.
func (k SyncKeys) SessionKeys() []string {
	return []string{
		k.Status(),
		k.UnitIndex(),
		k.ChunkIndex(),
		k.StartedAt(),
		k.LastChunkAt(),
		k.RecordsSaved(),
		k.Errors(),
	}
}
