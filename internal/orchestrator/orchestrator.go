// Package orchestrator drives backfill and sync sessions: triggering units,
// absorbing provider completions, reclaiming stuck sessions and stepping
// pull chunks.
package orchestrator

import (
	"context"
	"time"

	"github.com/wearsync/internal/config"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/models"
	"github.com/wearsync/internal/session"
	"github.com/wearsync/internal/task"
	"github.com/wearsync/internal/types"
)

// ConnectionSource resolves a user's provider credentials.
type ConnectionSource interface {
	GetActiveConnection(ctx context.Context, userID string, provider types.Provider) (*models.Connection, error)
}

// ProviderAPI is the provider surface the backfill driver needs.
type ProviderAPI interface {
	TriggerBackfill(ctx context.Context, accessToken, userID string, dataType types.DataType, window types.Window) (string, error)
}

// TaskRunner schedules follow-up work.
type TaskRunner interface {
	SubmitNow(name string, fn task.Func)
	SubmitDelayed(name string, fn task.Func, delay time.Duration)
}

// StepOutcome classifies what one backfill step did.
type StepOutcome string

const (
	// OutcomeTriggered means a unit trigger was accepted (or deduplicated).
	OutcomeTriggered StepOutcome = "triggered"
	// OutcomeWaiting means a trigger is already in flight.
	OutcomeWaiting StepOutcome = "waiting"
	// OutcomeLocked means another driver holds the session.
	OutcomeLocked StepOutcome = "locked"
	// OutcomeHalted means the session is not in a continuable state.
	OutcomeHalted StepOutcome = "halted"
)

// StepResult reports one backfill step.
type StepResult struct {
	Outcome StepOutcome
	Unit    types.DataType
	Window  types.Window
}

// Orchestrator advances backfill sessions one unit at a time. A session
// holds its driver lock from trigger until the provider callback lands;
// the completion receiver releases it and re-arms the next step.
type Orchestrator struct {
	tracker     *session.Tracker
	connections ConnectionSource
	provider    ProviderAPI
	tasks       TaskRunner
	cfg         *config.BackfillConfig
	logger      *logging.Logger

	// Replaceable pacing sleep for tests.
	sleep func(time.Duration)
}

// NewOrchestrator creates a backfill orchestrator.
func NewOrchestrator(tracker *session.Tracker, connections ConnectionSource, provider ProviderAPI, tasks TaskRunner, cfg *config.BackfillConfig, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		tracker:     tracker,
		connections: connections,
		provider:    provider,
		tasks:       tasks,
		cfg:         cfg,
		logger:      logger.WithField("component", "backfill_orchestrator"),
		sleep:       time.Sleep,
	}
}

// Kickoff starts or resumes a user's backfill session. Existing session
// state is never reset; a crashed or reclaimed session resumes from its
// stored pointer. Permanently failed sessions refuse to resume.
func (o *Orchestrator) Kickoff(ctx context.Context, userID string) (created bool, err error) {
	failed, err := o.tracker.PermanentlyFailed(ctx, userID)
	if err != nil {
		return false, err
	}
	if failed {
		attempts, aerr := o.tracker.AttemptCount(ctx, userID)
		if aerr != nil {
			return false, aerr
		}
		return false, apperrors.NewPermanentFailureError(userID, attempts)
	}

	created, err = o.tracker.EnsureSession(ctx, userID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	if !created {
		// Deliberate operator resume: shield from the reclaimer while the
		// first step lands and make a halted session continuable again.
		status, serr := o.tracker.Status(ctx, userID)
		if serr != nil {
			return false, serr
		}
		if status == types.BackfillCompleted {
			return false, nil
		}
		if err := o.tracker.SetResuming(ctx, userID); err != nil {
			return false, err
		}
		if !status.ShouldContinue() {
			if err := o.tracker.SetStatus(ctx, userID, types.BackfillActive); err != nil {
				return false, err
			}
		}
	}

	o.submitStep(userID)
	return created, nil
}

// Cancel cooperatively stops a session. In-flight provider work finishes on
// the provider side; its callback will be discarded.
func (o *Orchestrator) Cancel(ctx context.Context, userID string) error {
	if _, err := o.tracker.Status(ctx, userID); err != nil {
		return err
	}
	if err := o.tracker.SetStatus(ctx, userID, types.BackfillCancelled); err != nil {
		return err
	}
	return o.tracker.ReleaseLock(ctx, userID)
}

// Resync discards all session state and starts over from now.
func (o *Orchestrator) Resync(ctx context.Context, userID string) error {
	if err := o.tracker.DeleteSession(ctx, userID); err != nil {
		return err
	}
	_, err := o.Kickoff(ctx, userID)
	return err
}

// Snapshot returns the session status view.
func (o *Orchestrator) Snapshot(ctx context.Context, userID string) (*session.BackfillSnapshot, error) {
	return o.tracker.Snapshot(ctx, userID)
}

// Step advances the session by at most one unit trigger. It is safe to call
// at any time from any driver; the lock and the per-unit state make
// duplicate invocations converge.
func (o *Orchestrator) Step(ctx context.Context, userID string) (*StepResult, error) {
	status, err := o.tracker.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !status.ShouldContinue() {
		return &StepResult{Outcome: OutcomeHalted}, nil
	}

	failed, err := o.tracker.PermanentlyFailed(ctx, userID)
	if err != nil {
		return nil, err
	}
	if failed {
		return &StepResult{Outcome: OutcomeHalted}, nil
	}

	acquired, err := o.tracker.AcquireLock(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &StepResult{Outcome: OutcomeLocked}, nil
	}

	// The step itself is the activity the resume guard was protecting.
	if err := o.tracker.ClearResuming(ctx, userID); err != nil {
		o.releaseOnError(ctx, userID)
		return nil, err
	}

	unit, _, err := o.tracker.CurrentUnit(ctx, userID)
	if err != nil {
		o.releaseOnError(ctx, userID)
		return nil, err
	}
	window, err := o.tracker.CurrentWindow(ctx, userID)
	if err != nil {
		o.releaseOnError(ctx, userID)
		return nil, err
	}

	state, err := o.tracker.UnitStateOf(ctx, userID, unit)
	if err != nil {
		o.releaseOnError(ctx, userID)
		return nil, err
	}

	switch state {
	case types.UnitTriggered:
		// Callback pending. Keep the lock; the receiver or the reclaimer
		// moves the session next.
		return &StepResult{Outcome: OutcomeWaiting, Unit: unit, Window: window}, nil

	case types.UnitCompleted:
		// The receiver normally advances past completed units; converge by
		// advancing here and re-arming.
		windowsDone, reachedTarget, err := o.tracker.AdvanceUnit(ctx, userID)
		if err != nil {
			o.releaseOnError(ctx, userID)
			return nil, err
		}
		if reachedTarget {
			if err := o.tracker.SetStatus(ctx, userID, types.BackfillCompleted); err != nil {
				o.releaseOnError(ctx, userID)
				return nil, err
			}
			if err := o.tracker.ReleaseLock(ctx, userID); err != nil {
				return nil, err
			}
			o.logger.WithFields(map[string]interface{}{
				"user_id":           userID,
				"windows_completed": windowsDone,
			}).Info("Backfill session completed")
			return &StepResult{Outcome: OutcomeHalted, Unit: unit, Window: window}, nil
		}
		if err := o.tracker.ReleaseLock(ctx, userID); err != nil {
			return nil, err
		}
		o.submitStep(userID)
		return &StepResult{Outcome: OutcomeWaiting, Unit: unit, Window: window}, nil
	}

	// Not triggered or timed out: issue the trigger.
	if err := o.trigger(ctx, userID, unit, window); err != nil {
		return nil, err
	}

	return &StepResult{Outcome: OutcomeTriggered, Unit: unit, Window: window}, nil
}

// trigger issues one provider trigger for the unit, holding the lock on
// success. Errors release the lock so a retried step can re-acquire it.
func (o *Orchestrator) trigger(ctx context.Context, userID string, unit types.DataType, window types.Window) error {
	conn, err := o.connections.GetActiveConnection(ctx, userID, types.ProviderPulse)
	if err != nil {
		return o.failStep(ctx, userID, unit, window, err)
	}

	o.sleep(o.cfg.TriggerPacing)

	token, err := o.provider.TriggerBackfill(ctx, conn.AccessToken, userID, unit, window)
	if err != nil && !apperrors.IsDuplicate(err) {
		return o.failStep(ctx, userID, unit, window, err)
	}
	if apperrors.IsDuplicate(err) {
		// The provider is still working the originally accepted request and
		// its callback will echo that request's token, not this one's.
		stored, hasToken, terr := o.tracker.CorrelationToken(ctx, userID)
		if terr != nil {
			o.releaseOnError(ctx, userID)
			return terr
		}
		if hasToken && stored != "" {
			token = stored
		}
		o.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"unit":    string(unit),
		}).Info("Provider already fetching unit, treating as triggered")
	}

	now := time.Now().UTC()
	if err := o.tracker.MarkTriggered(ctx, userID, unit, token, now); err != nil {
		o.releaseOnError(ctx, userID)
		return err
	}
	if err := o.tracker.RefreshTTL(ctx, userID); err != nil {
		return err
	}

	o.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"unit":    string(unit),
		"window":  window.String(),
	}).Info("Unit triggered, awaiting provider callback")
	return nil
}

// failStep records the error, releases the lock and routes by category:
// structural errors halt the session for an operator, transient errors are
// surfaced for the task runtime to retry.
func (o *Orchestrator) failStep(ctx context.Context, userID string, unit types.DataType, window types.Window, cause error) error {
	catErr := apperrors.Categorize(cause)

	recErr := o.tracker.RecordError(ctx, userID, types.UnitError{
		Unit:       unit,
		Message:    catErr.Message,
		Window:     window.String(),
		Retryable:  catErr.Category == apperrors.CategoryTransient,
		OccurredAt: time.Now().UTC(),
	})
	if recErr != nil {
		o.logger.WithError(recErr).Warn("Failed to record session error")
	}

	if apperrors.IsStructural(cause) {
		if err := o.tracker.SetStatus(ctx, userID, types.BackfillAttention); err != nil {
			o.logger.WithError(err).Warn("Failed to set attention status")
		}
		o.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"unit":    string(unit),
		}).WithError(cause).Error("Structural error, session needs attention")
	}

	o.releaseOnError(ctx, userID)
	return cause
}

func (o *Orchestrator) releaseOnError(ctx context.Context, userID string) {
	if err := o.tracker.ReleaseLock(ctx, userID); err != nil {
		o.logger.WithError(err).Warn("Failed to release session lock")
	}
}

func (o *Orchestrator) submitStep(userID string) {
	o.tasks.SubmitNow("backfill_step", func(ctx context.Context) error {
		_, err := o.Step(ctx, userID)
		return err
	})
}
