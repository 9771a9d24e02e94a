package orchestrator

import (
	"context"
	"time"

	"github.com/wearsync/internal/config"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/session"
	"github.com/wearsync/internal/storage"
	"github.com/wearsync/internal/types"
)

// Reclaimer sweeps locked sessions and reclaims those showing no unit
// activity within the stuck threshold. Each reclaim counts against the
// session's bounded recovery budget; the last one freezes the session
// permanently.
type Reclaimer struct {
	tracker *session.Tracker
	store   *storage.SessionStore
	orch    *Orchestrator
	cfg     *config.BackfillConfig
	logger  *logging.Logger

	// Replaceable clock for threshold tests.
	now func() time.Time
}

// NewReclaimer creates a session reclaimer.
func NewReclaimer(tracker *session.Tracker, store *storage.SessionStore, orch *Orchestrator, cfg *config.BackfillConfig, logger *logging.Logger) *Reclaimer {
	return &Reclaimer{
		tracker: tracker,
		store:   store,
		orch:    orch,
		cfg:     cfg,
		logger:  logger.WithField("component", "reclaimer"),
		now:     time.Now,
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned   int
	Reclaimed int
	Frozen    int
}

// Sweep examines every locked session once. Per-session failures are logged
// and skipped so one bad session cannot stall the sweep.
func (r *Reclaimer) Sweep(ctx context.Context) (*SweepStats, error) {
	stats := &SweepStats{}

	err := r.store.Scan(ctx, storage.BackfillLockPrefix(), func(key string) error {
		userID, perr := storage.ParseBackfillLockKey(key)
		if perr != nil {
			r.logger.WithField("key", key).Warn("Skipping unparseable lock key")
			return nil
		}

		stats.Scanned++
		if serr := r.examine(ctx, userID, stats); serr != nil {
			r.logger.WithField("user_id", userID).WithError(serr).Warn("Failed to examine session")
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if stats.Reclaimed > 0 || stats.Frozen > 0 {
		r.logger.WithFields(map[string]interface{}{
			"scanned":   stats.Scanned,
			"reclaimed": stats.Reclaimed,
			"frozen":    stats.Frozen,
		}).Info("Sweep reclaimed sessions")
	}
	return stats, nil
}

func (r *Reclaimer) examine(ctx context.Context, userID string, stats *SweepStats) error {
	status, err := r.tracker.Status(ctx, userID)
	if err != nil {
		return err
	}
	if !status.ShouldContinue() {
		return nil
	}

	// Frozen sessions keep their state untouched until an operator resyncs.
	failed, err := r.tracker.PermanentlyFailed(ctx, userID)
	if err != nil {
		return err
	}
	if failed {
		return nil
	}

	// A deliberate resume is about to produce activity; leave it alone.
	resuming, err := r.tracker.IsResuming(ctx, userID)
	if err != nil {
		return err
	}
	if resuming {
		return nil
	}

	lastActivity, err := r.tracker.LastActivity(ctx, userID)
	if err != nil {
		return err
	}
	if r.now().Sub(lastActivity) < r.cfg.StuckThreshold {
		return nil
	}

	return r.reclaim(ctx, userID, stats)
}

// reclaim times out the pending unit, points the session back at it, frees
// the lock and spends one recovery attempt.
func (r *Reclaimer) reclaim(ctx context.Context, userID string, stats *SweepStats) error {
	unit, pending, err := r.tracker.TriggeredUnit(ctx, userID)
	if err != nil {
		return err
	}

	if pending {
		if err := r.tracker.MarkTimedOut(ctx, userID, unit); err != nil {
			return err
		}
		if err := r.pointAt(ctx, userID, unit); err != nil {
			return err
		}
		if err := r.tracker.RecordError(ctx, userID, types.UnitError{
			Unit:       unit,
			Message:    "no provider callback within the stuck threshold",
			Retryable:  true,
			OccurredAt: r.now().UTC(),
		}); err != nil {
			return err
		}
	}

	if err := r.tracker.ReleaseLock(ctx, userID); err != nil {
		return err
	}

	attempts, err := r.tracker.IncrementAttempts(ctx, userID)
	if err != nil {
		return err
	}

	logger := r.logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"unit":     string(unit),
		"attempts": attempts,
	})

	if attempts >= r.cfg.MaxAttempts {
		if err := r.tracker.SetPermanentlyFailed(ctx, userID); err != nil {
			return err
		}
		stats.Frozen++
		logger.Error("Session exhausted recovery attempts, frozen")
		return nil
	}

	stats.Reclaimed++
	logger.Warn("Session reclaimed, re-arming")
	r.orch.submitStep(userID)
	return nil
}

// pointAt rewinds the unit pointer to the reclaimed unit so the next step
// re-triggers it rather than skipping ahead.
func (r *Reclaimer) pointAt(ctx context.Context, userID string, unit types.DataType) error {
	for i, u := range r.cfg.UnitSequence {
		if u == unit {
			return r.tracker.SetUnitIndex(ctx, userID, i)
		}
	}
	return nil
}
