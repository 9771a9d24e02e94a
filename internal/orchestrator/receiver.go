package orchestrator

import (
	"context"
	"time"

	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/session"
	"github.com/wearsync/internal/types"
)

// CompletionSignal is one provider callback reporting a finished
// asynchronous fetch.
type CompletionSignal struct {
	UserID           string         `json:"user_id"`
	DataType         types.DataType `json:"data_type"`
	CorrelationToken string         `json:"correlation_token"`
	CompletedAt      time.Time      `json:"completed_at"`
}

// Receiver absorbs provider completion callbacks. Completion handling is
// idempotent: duplicate, late or unexpected signals are discarded without
// touching session state, and discards are always acknowledged so the
// provider stops redelivering.
type Receiver struct {
	tracker *session.Tracker
	orch    *Orchestrator
	logger  *logging.Logger
}

// NewReceiver creates a completion receiver.
func NewReceiver(tracker *session.Tracker, orch *Orchestrator, logger *logging.Logger) *Receiver {
	return &Receiver{
		tracker: tracker,
		orch:    orch,
		logger:  logger.WithField("component", "completion_receiver"),
	}
}

// HandleCompletion applies one completion signal. Returns true when the
// signal advanced the session, false when it was discarded. Errors are
// store failures only; the caller should have the provider redeliver.
func (r *Receiver) HandleCompletion(ctx context.Context, sig *CompletionSignal) (bool, error) {
	logger := r.logger.WithFields(map[string]interface{}{
		"user_id":   sig.UserID,
		"data_type": string(sig.DataType),
	})

	exists, err := r.tracker.SessionExists(ctx, sig.UserID)
	if err != nil {
		return false, err
	}
	if !exists {
		logger.Debug("Completion for unknown session, discarding")
		return false, nil
	}

	status, err := r.tracker.Status(ctx, sig.UserID)
	if err != nil {
		return false, err
	}
	if !status.ShouldContinue() {
		logger.WithField("status", string(status)).Debug("Completion for halted session, discarding")
		return false, nil
	}

	unit, pending, err := r.tracker.TriggeredUnit(ctx, sig.UserID)
	if err != nil {
		return false, err
	}
	if !pending {
		logger.Debug("No trigger in flight, discarding completion")
		return false, nil
	}
	if unit != sig.DataType {
		logger.WithField("pending_unit", string(unit)).Debug("Completion for wrong unit, discarding")
		return false, nil
	}

	// A token mismatch means the signal belongs to an earlier trigger
	// generation, typically after a reclaim and re-trigger.
	if sig.CorrelationToken != "" {
		stored, hasToken, terr := r.tracker.CorrelationToken(ctx, sig.UserID)
		if terr != nil {
			return false, terr
		}
		if hasToken && stored != sig.CorrelationToken {
			logger.Debug("Stale correlation token, discarding completion")
			return false, nil
		}
	}

	completedAt := sig.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	if err := r.tracker.MarkCompleted(ctx, sig.UserID, unit, completedAt); err != nil {
		return false, err
	}

	windowsDone, reachedTarget, err := r.tracker.AdvanceUnit(ctx, sig.UserID)
	if err != nil {
		return false, err
	}

	if reachedTarget {
		if err := r.tracker.SetStatus(ctx, sig.UserID, types.BackfillCompleted); err != nil {
			return false, err
		}
		if err := r.tracker.ReleaseLock(ctx, sig.UserID); err != nil {
			return false, err
		}
		logger.WithField("windows_completed", windowsDone).Info("Backfill session completed")
		return true, nil
	}

	if err := r.tracker.RefreshTTL(ctx, sig.UserID); err != nil {
		return false, err
	}
	if err := r.tracker.ReleaseLock(ctx, sig.UserID); err != nil {
		return false, err
	}

	r.orch.submitStep(sig.UserID)
	logger.WithField("windows_completed", windowsDone).Debug("Unit completed, next step armed")
	return true, nil
}
