// Package session tracks backfill and sync session state in the session
// store. Trackers own the encoding of every session field; orchestration
// components never touch raw keys.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/wearsync/internal/config"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/storage"
	"github.com/wearsync/internal/types"
)

// maxSessionErrors caps the per-session error log. Older entries are
// dropped first.
const maxSessionErrors = 10

// Tracker manages one keyspace of backfill sessions.
type Tracker struct {
	store *storage.SessionStore
	cfg   *config.BackfillConfig
}

// NewTracker creates a backfill session tracker.
func NewTracker(store *storage.SessionStore, cfg *config.BackfillConfig) *Tracker {
	return &Tracker{store: store, cfg: cfg}
}

// Sequence returns the configured unit order.
func (t *Tracker) Sequence() []types.DataType {
	return t.cfg.UnitSequence
}

// EnsureSession initializes session state for a user if none exists.
// Returns true when a new session was created. Existing state is left
// untouched so a crashed driver resumes exactly where it stopped.
func (t *Tracker) EnsureSession(ctx context.Context, userID string, now time.Time) (bool, error) {
	keys := storage.NewBackfillKeys(userID)

	_, exists, err := t.store.Get(ctx, keys.Status())
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	window := types.NewWindow(now, t.cfg.WindowSize)
	ttl := t.cfg.SessionTTL

	writes := map[string]string{
		keys.Status():           string(types.BackfillActive),
		keys.WindowStart():      formatMillis(window.Start),
		keys.UnitIndex():        "0",
		keys.WindowsCompleted(): "0",
		keys.AttemptCount():     "0",
		keys.CreatedAt():        formatMillis(now),
	}
	for key, value := range writes {
		if err := t.store.Set(ctx, key, value, ttl); err != nil {
			return false, err
		}
	}

	return true, nil
}

// SessionExists reports whether any session state exists for the user.
func (t *Tracker) SessionExists(ctx context.Context, userID string) (bool, error) {
	keys := storage.NewBackfillKeys(userID)
	_, exists, err := t.store.Get(ctx, keys.Status())
	return exists, err
}

// DeleteSession removes every key the session owns, the lock included. Used
// by resync.
func (t *Tracker) DeleteSession(ctx context.Context, userID string) error {
	keys := storage.NewBackfillKeys(userID)
	all := append(keys.SessionKeys(t.cfg.UnitSequence), keys.Lock())
	return t.store.Delete(ctx, all...)
}

// Status returns the session status. A missing session reads as a
// not-found error.
func (t *Tracker) Status(ctx context.Context, userID string) (types.BackfillStatus, error) {
	keys := storage.NewBackfillKeys(userID)
	val, exists, err := t.store.Get(ctx, keys.Status())
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apperrors.NewNotFoundError("backfill session", userID)
	}
	return types.BackfillStatus(val), nil
}

// SetStatus updates the session status.
func (t *Tracker) SetStatus(ctx context.Context, userID string, status types.BackfillStatus) error {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Set(ctx, keys.Status(), string(status), t.cfg.SessionTTL)
}

// CurrentWindow returns the window the session is working through.
func (t *Tracker) CurrentWindow(ctx context.Context, userID string) (types.Window, error) {
	keys := storage.NewBackfillKeys(userID)
	start, err := t.getMillis(ctx, keys.WindowStart())
	if err != nil {
		return types.Window{}, err
	}
	return types.Window{Start: start, End: start.Add(t.cfg.WindowSize)}, nil
}

// CurrentUnit returns the data type the unit pointer rests on and its index.
func (t *Tracker) CurrentUnit(ctx context.Context, userID string) (types.DataType, int, error) {
	keys := storage.NewBackfillKeys(userID)
	idx, err := t.getInt(ctx, keys.UnitIndex())
	if err != nil {
		return "", 0, err
	}
	if idx < 0 || idx >= len(t.cfg.UnitSequence) {
		return "", 0, apperrors.NewStoreError("unit index",
			&types.ServiceError{Code: "CORRUPT_INDEX", Message: "unit index out of range"})
	}
	return t.cfg.UnitSequence[idx], idx, nil
}

// SetUnitIndex moves the unit pointer. Used by the reclaimer to point the
// session back at a reclaimed unit.
func (t *Tracker) SetUnitIndex(ctx context.Context, userID string, idx int) error {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Set(ctx, keys.UnitIndex(), strconv.Itoa(idx), t.cfg.SessionTTL)
}

// AdvanceUnit moves the pointer to the next unit. When the sequence wraps it
// steps the window back one size, bumps the windows-completed counter and
// clears per-unit state for the new window. Returns the number of windows
// completed so far and whether the target was reached.
func (t *Tracker) AdvanceUnit(ctx context.Context, userID string) (int, bool, error) {
	keys := storage.NewBackfillKeys(userID)

	_, idx, err := t.CurrentUnit(ctx, userID)
	if err != nil {
		return 0, false, err
	}

	next := idx + 1
	if next < len(t.cfg.UnitSequence) {
		if err := t.SetUnitIndex(ctx, userID, next); err != nil {
			return 0, false, err
		}
		done, err := t.getInt(ctx, keys.WindowsCompleted())
		return done, false, err
	}

	// Window finished. Step back and reset unit state.
	window, err := t.CurrentWindow(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	prev := window.Previous()

	if err := t.store.Set(ctx, keys.WindowStart(), formatMillis(prev.Start), t.cfg.SessionTTL); err != nil {
		return 0, false, err
	}
	if err := t.SetUnitIndex(ctx, userID, 0); err != nil {
		return 0, false, err
	}

	var unitKeys []string
	for _, unit := range t.cfg.UnitSequence {
		unitKeys = append(unitKeys, keys.UnitState(unit), keys.UnitTriggeredAt(unit), keys.UnitCompletedAt(unit))
	}
	if err := t.store.Delete(ctx, unitKeys...); err != nil {
		return 0, false, err
	}

	done, err := t.store.Incr(ctx, keys.WindowsCompleted())
	if err != nil {
		return 0, false, err
	}
	if err := t.store.Expire(ctx, keys.WindowsCompleted(), t.cfg.SessionTTL); err != nil {
		return 0, false, err
	}

	return int(done), int(done) >= t.cfg.TargetWindows, nil
}

// UnitStateOf returns the state of one unit in the current window. Absent
// state reads as not triggered.
func (t *Tracker) UnitStateOf(ctx context.Context, userID string, unit types.DataType) (types.UnitState, error) {
	keys := storage.NewBackfillKeys(userID)
	val, exists, err := t.store.Get(ctx, keys.UnitState(unit))
	if err != nil {
		return "", err
	}
	if !exists {
		return types.UnitNotTriggered, nil
	}
	return types.UnitState(val), nil
}

// MarkTriggered records an accepted trigger and the correlation token the
// provider will echo back.
func (t *Tracker) MarkTriggered(ctx context.Context, userID string, unit types.DataType, token string, now time.Time) error {
	keys := storage.NewBackfillKeys(userID)
	ttl := t.cfg.SessionTTL

	if err := t.store.Set(ctx, keys.UnitState(unit), string(types.UnitTriggered), ttl); err != nil {
		return err
	}
	if err := t.store.Set(ctx, keys.UnitTriggeredAt(unit), formatMillis(now), ttl); err != nil {
		return err
	}
	return t.store.Set(ctx, keys.CorrelationToken(), token, ttl)
}

// MarkCompleted records a provider completion for a unit.
func (t *Tracker) MarkCompleted(ctx context.Context, userID string, unit types.DataType, now time.Time) error {
	keys := storage.NewBackfillKeys(userID)
	ttl := t.cfg.SessionTTL

	if err := t.store.Set(ctx, keys.UnitState(unit), string(types.UnitCompleted), ttl); err != nil {
		return err
	}
	return t.store.Set(ctx, keys.UnitCompletedAt(unit), formatMillis(now), ttl)
}

// MarkTimedOut records a reclaimed unit.
func (t *Tracker) MarkTimedOut(ctx context.Context, userID string, unit types.DataType) error {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Set(ctx, keys.UnitState(unit), string(types.UnitTimedOut), t.cfg.SessionTTL)
}

// TriggeredUnit returns the unit currently awaiting a provider callback,
// if any. At most one unit can be in the triggered state.
func (t *Tracker) TriggeredUnit(ctx context.Context, userID string) (types.DataType, bool, error) {
	for _, unit := range t.cfg.UnitSequence {
		state, err := t.UnitStateOf(ctx, userID, unit)
		if err != nil {
			return "", false, err
		}
		if state == types.UnitTriggered {
			return unit, true, nil
		}
	}
	return "", false, nil
}

// CorrelationToken returns the token attached to the pending trigger.
func (t *Tracker) CorrelationToken(ctx context.Context, userID string) (string, bool, error) {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Get(ctx, keys.CorrelationToken())
}

// LastActivity returns the most recent unit trigger or completion in the
// current window, falling back to session creation time. Staleness detection
// measures from this point.
func (t *Tracker) LastActivity(ctx context.Context, userID string) (time.Time, error) {
	keys := storage.NewBackfillKeys(userID)

	var latest time.Time
	for _, unit := range t.cfg.UnitSequence {
		for _, key := range []string{keys.UnitTriggeredAt(unit), keys.UnitCompletedAt(unit)} {
			val, exists, err := t.store.Get(ctx, key)
			if err != nil {
				return time.Time{}, err
			}
			if !exists {
				continue
			}
			ts, err := parseMillis(val)
			if err != nil {
				continue
			}
			if ts.After(latest) {
				latest = ts
			}
		}
	}
	if !latest.IsZero() {
		return latest, nil
	}

	return t.getMillis(ctx, keys.CreatedAt())
}

// AcquireLock takes the session driver lock. Returns false when another
// driver holds it. The TTL bounds how long a crashed driver can block the
// session.
func (t *Tracker) AcquireLock(ctx context.Context, userID string) (bool, error) {
	keys := storage.NewBackfillKeys(userID)
	return t.store.SetNotExists(ctx, keys.Lock(), "1", t.cfg.LockTTL)
}

// ReleaseLock releases the session driver lock.
func (t *Tracker) ReleaseLock(ctx context.Context, userID string) error {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Delete(ctx, keys.Lock())
}

// RefreshTTL extends every session key's TTL. Called on each successful
// step so active sessions outlive the base TTL.
func (t *Tracker) RefreshTTL(ctx context.Context, userID string) error {
	keys := storage.NewBackfillKeys(userID)
	for _, key := range keys.SessionKeys(t.cfg.UnitSequence) {
		if err := t.store.Expire(ctx, key, t.cfg.SessionTTL); err != nil {
			return err
		}
	}
	return nil
}

// AttemptCount returns the number of reclaimer-driven recoveries.
func (t *Tracker) AttemptCount(ctx context.Context, userID string) (int, error) {
	keys := storage.NewBackfillKeys(userID)
	return t.getInt(ctx, keys.AttemptCount())
}

// IncrementAttempts bumps the recovery counter and returns the new value.
func (t *Tracker) IncrementAttempts(ctx context.Context, userID string) (int, error) {
	keys := storage.NewBackfillKeys(userID)
	val, err := t.store.Incr(ctx, keys.AttemptCount())
	if err != nil {
		return 0, err
	}
	if err := t.store.Expire(ctx, keys.AttemptCount(), t.cfg.SessionTTL); err != nil {
		return 0, err
	}
	return int(val), nil
}

// PermanentlyFailed reports whether the session exhausted its recovery
// bound. Once set the flag never clears; only resync starts over.
func (t *Tracker) PermanentlyFailed(ctx context.Context, userID string) (bool, error) {
	keys := storage.NewBackfillKeys(userID)
	_, exists, err := t.store.Get(ctx, keys.PermanentlyFailed())
	return exists, err
}

// SetPermanentlyFailed freezes the session after the last recovery attempt.
func (t *Tracker) SetPermanentlyFailed(ctx context.Context, userID string) error {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Set(ctx, keys.PermanentlyFailed(), "1", t.cfg.SessionTTL)
}

// SetResuming raises a short-lived guard telling the reclaimer a deliberate
// resume is in flight.
func (t *Tracker) SetResuming(ctx context.Context, userID string) error {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Set(ctx, keys.Resuming(), "1", t.cfg.ResumeGuardTTL)
}

// IsResuming reports whether the resume guard is raised.
func (t *Tracker) IsResuming(ctx context.Context, userID string) (bool, error) {
	keys := storage.NewBackfillKeys(userID)
	_, exists, err := t.store.Get(ctx, keys.Resuming())
	return exists, err
}

// ClearResuming drops the resume guard.
func (t *Tracker) ClearResuming(ctx context.Context, userID string) error {
	keys := storage.NewBackfillKeys(userID)
	return t.store.Delete(ctx, keys.Resuming())
}

// RecordError appends to the session's capped error log.
func (t *Tracker) RecordError(ctx context.Context, userID string, unitErr types.UnitError) error {
	keys := storage.NewBackfillKeys(userID)
	return appendError(ctx, t.store, keys.Errors(), t.cfg.SessionTTL, unitErr)
}

// Errors returns the session's error log, newest last.
func (t *Tracker) Errors(ctx context.Context, userID string) ([]types.UnitError, error) {
	keys := storage.NewBackfillKeys(userID)
	return readErrors(ctx, t.store, keys.Errors())
}

// BackfillSnapshot is a read-only view of one session for the status API.
type BackfillSnapshot struct {
	UserID            string               `json:"userId"`
	Status            types.BackfillStatus `json:"status"`
	Window            types.Window         `json:"window"`
	Unit              types.DataType       `json:"unit"`
	UnitIndex         int                  `json:"unitIndex"`
	UnitState         types.UnitState      `json:"unitState"`
	WindowsCompleted  int                  `json:"windowsCompleted"`
	TargetWindows     int                  `json:"targetWindows"`
	AttemptCount      int                  `json:"attemptCount"`
	PermanentlyFailed bool                 `json:"permanentlyFailed"`
	CreatedAt         time.Time            `json:"createdAt"`
	Errors            []types.UnitError    `json:"errors,omitempty"`
}

// Snapshot assembles the full session view.
func (t *Tracker) Snapshot(ctx context.Context, userID string) (*BackfillSnapshot, error) {
	keys := storage.NewBackfillKeys(userID)

	status, err := t.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	window, err := t.CurrentWindow(ctx, userID)
	if err != nil {
		return nil, err
	}
	unit, idx, err := t.CurrentUnit(ctx, userID)
	if err != nil {
		return nil, err
	}
	unitState, err := t.UnitStateOf(ctx, userID, unit)
	if err != nil {
		return nil, err
	}
	done, err := t.getInt(ctx, keys.WindowsCompleted())
	if err != nil {
		return nil, err
	}
	attempts, err := t.AttemptCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	failed, err := t.PermanentlyFailed(ctx, userID)
	if err != nil {
		return nil, err
	}
	createdAt, err := t.getMillis(ctx, keys.CreatedAt())
	if err != nil {
		return nil, err
	}
	unitErrors, err := t.Errors(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &BackfillSnapshot{
		UserID:            userID,
		Status:            status,
		Window:            window,
		Unit:              unit,
		UnitIndex:         idx,
		UnitState:         unitState,
		WindowsCompleted:  done,
		TargetWindows:     t.cfg.TargetWindows,
		AttemptCount:      attempts,
		PermanentlyFailed: failed,
		CreatedAt:         createdAt,
		Errors:            unitErrors,
	}, nil
}

// Store helpers shared with the sync tracker.

func (t *Tracker) getInt(ctx context.Context, key string) (int, error) {
	return getStoredInt(ctx, t.store, key)
}

func (t *Tracker) getMillis(ctx context.Context, key string) (time.Time, error) {
	return getStoredMillis(ctx, t.store, key)
}

func getStoredInt(ctx context.Context, store *storage.SessionStore, key string) (int, error) {
	val, exists, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, apperrors.NewStoreError("parse int", err)
	}
	return n, nil
}

func getStoredMillis(ctx context.Context, store *storage.SessionStore, key string) (time.Time, error) {
	val, exists, err := store.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if !exists {
		return time.Time{}, apperrors.NewNotFoundError("timestamp key", key)
	}
	return parseMillis(val)
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(val string) (time.Time, error) {
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, apperrors.NewStoreError("parse timestamp", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func appendError(ctx context.Context, store *storage.SessionStore, key string, ttl time.Duration, unitErr types.UnitError) error {
	list, err := readErrors(ctx, store, key)
	if err != nil {
		return err
	}

	list = append(list, unitErr)
	if len(list) > maxSessionErrors {
		list = list[len(list)-maxSessionErrors:]
	}

	data, err := json.Marshal(list)
	if err != nil {
		return apperrors.NewStoreError("marshal errors", err)
	}
	return store.Set(ctx, key, string(data), ttl)
}

func readErrors(ctx context.Context, store *storage.SessionStore, key string) ([]types.UnitError, error) {
	val, exists, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var list []types.UnitError
	if err := json.Unmarshal([]byte(val), &list); err != nil {
		return nil, apperrors.NewStoreError("unmarshal errors", err)
	}
	return list, nil
}
