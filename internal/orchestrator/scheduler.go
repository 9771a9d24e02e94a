package orchestrator

import (
	"context"
	"time"

	"github.com/wearsync/internal/adapter"
	"github.com/wearsync/internal/config"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/session"
	"github.com/wearsync/internal/types"
)

// SummaryAPI is the provider surface the pull scheduler needs.
type SummaryAPI interface {
	FetchSummary(ctx context.Context, accessToken, userID string, dataType types.DataType, window types.Window) (*adapter.Payload, error)
}

// PayloadSink persists decoded payloads.
type PayloadSink interface {
	Save(ctx context.Context, userID string, payload *adapter.Payload) (int, error)
}

// ChunkOutcome classifies what one sync step did.
type ChunkOutcome string

const (
	// ChunkFetched means the chunk was pulled, saved and the session advanced.
	ChunkFetched ChunkOutcome = "fetched"
	// ChunkRateLimited means the provider pushed back and the session is
	// parked for the fixed backoff.
	ChunkRateLimited ChunkOutcome = "rate_limited"
	// ChunkDone means the session just finished its last chunk.
	ChunkDone ChunkOutcome = "done"
	// ChunkHalted means the session is not in a runnable state.
	ChunkHalted ChunkOutcome = "halted"
)

// ChunkResult reports one sync step.
type ChunkResult struct {
	Outcome ChunkOutcome
	Unit    types.DataType
	Window  types.Window
	Saved   int
}

// Scheduler walks a pull-chunk sync session through bounded synchronous
// fetches, one chunk per step, self-rescheduling with per-type pacing.
type Scheduler struct {
	tracker     *session.SyncTracker
	connections ConnectionSource
	provider    SummaryAPI
	sink        PayloadSink
	tasks       TaskRunner
	cfg         *config.SyncConfig
	logger      *logging.Logger
}

// NewScheduler creates a pull-chunk sync scheduler.
func NewScheduler(tracker *session.SyncTracker, connections ConnectionSource, provider SummaryAPI, sink PayloadSink, tasks TaskRunner, cfg *config.SyncConfig, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		tracker:     tracker,
		connections: connections,
		provider:    provider,
		sink:        sink,
		tasks:       tasks,
		cfg:         cfg,
		logger:      logger.WithField("component", "sync_scheduler"),
	}
}

// Kickoff starts a sync session. A session already running keeps its
// position; kickoff just reports it.
func (s *Scheduler) Kickoff(ctx context.Context, userID string) (started bool, err error) {
	started, err = s.tracker.Start(ctx, userID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if started {
		s.submitStep(userID, 0)
	}
	return started, nil
}

// Snapshot returns the session status view.
func (s *Scheduler) Snapshot(ctx context.Context, userID string) (*session.SyncSnapshot, error) {
	return s.tracker.Snapshot(ctx, userID)
}

// Step pulls exactly one chunk. Indices only move after the chunk is saved,
// so a crash between fetch and advance re-pulls the same chunk; the sinks
// absorb the duplicate.
func (s *Scheduler) Step(ctx context.Context, userID string) (*ChunkResult, error) {
	status, err := s.tracker.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !status.Runnable() {
		return &ChunkResult{Outcome: ChunkHalted}, nil
	}
	if status == types.SyncWaiting {
		if err := s.tracker.SetStatus(ctx, userID, types.SyncRunning); err != nil {
			return nil, err
		}
	}

	unitIdx, chunkIdx, err := s.tracker.Position(ctx, userID)
	if err != nil {
		return nil, err
	}
	unit := s.cfg.UnitSequence[unitIdx]

	anchor, err := s.tracker.Anchor(ctx, userID)
	if err != nil {
		return nil, err
	}
	window := s.tracker.ChunkWindow(anchor, chunkIdx)

	conn, err := s.connections.GetActiveConnection(ctx, userID, types.ProviderPulse)
	if err != nil {
		return nil, s.failChunk(ctx, userID, unit, window, err)
	}

	payload, err := s.provider.FetchSummary(ctx, conn.AccessToken, userID, unit, window)
	if err != nil {
		if apperrors.IsRateLimit(err) {
			return s.park(ctx, userID, unit, window, err)
		}
		return nil, s.failChunk(ctx, userID, unit, window, err)
	}

	saved, err := s.sink.Save(ctx, userID, payload)
	if err != nil {
		return nil, s.failChunk(ctx, userID, unit, window, err)
	}

	if err := s.tracker.MarkChunk(ctx, userID, saved, time.Now().UTC()); err != nil {
		return nil, err
	}

	done, err := s.tracker.Advance(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ChunkResult{Outcome: ChunkFetched, Unit: unit, Window: window, Saved: saved}
	if done {
		result.Outcome = ChunkDone
		s.logger.WithField("user_id", userID).Info("Sync session completed")
		return result, nil
	}

	// The session sits out the inter-chunk delay in Waiting; the re-armed
	// step flips it back to Running.
	if err := s.tracker.SetStatus(ctx, userID, types.SyncWaiting); err != nil {
		return nil, err
	}

	delay := s.cfg.ChunkDelay
	if unit.IsIntraday() {
		delay = s.cfg.IntradayChunkDelay
	}
	s.submitStep(userID, delay)

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"unit":    string(unit),
		"window":  window.String(),
		"saved":   saved,
	}).Debug("Chunk fetched")
	return result, nil
}

// park records a provider pushback and reschedules the same chunk after the
// fixed backoff. Indices stay where they are.
func (s *Scheduler) park(ctx context.Context, userID string, unit types.DataType, window types.Window, cause error) (*ChunkResult, error) {
	if err := s.recordChunkError(ctx, userID, unit, window, cause, true); err != nil {
		return nil, err
	}
	if err := s.tracker.SetStatus(ctx, userID, types.SyncWaiting); err != nil {
		return nil, err
	}

	s.submitStep(userID, s.cfg.RateLimitBackoff)
	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"unit":    string(unit),
		"backoff": s.cfg.RateLimitBackoff.String(),
	}).Warn("Provider rate limit, sync parked")
	return &ChunkResult{Outcome: ChunkRateLimited, Unit: unit, Window: window}, nil
}

// failChunk records the error and routes by category. Structural errors end
// the session; transient errors are surfaced so the task runtime retries the
// same chunk.
func (s *Scheduler) failChunk(ctx context.Context, userID string, unit types.DataType, window types.Window, cause error) error {
	retryable := apperrors.IsTransient(cause)
	if err := s.recordChunkError(ctx, userID, unit, window, cause, retryable); err != nil {
		s.logger.WithError(err).Warn("Failed to record sync error")
	}

	if !retryable {
		if err := s.tracker.SetStatus(ctx, userID, types.SyncFailed); err != nil {
			s.logger.WithError(err).Warn("Failed to set sync status")
		}
		s.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"unit":    string(unit),
		}).WithError(cause).Error("Sync session failed")
	}
	return cause
}

func (s *Scheduler) recordChunkError(ctx context.Context, userID string, unit types.DataType, window types.Window, cause error, retryable bool) error {
	catErr := apperrors.Categorize(cause)
	return s.tracker.RecordError(ctx, userID, types.UnitError{
		Unit:       unit,
		Message:    catErr.Message,
		Window:     window.String(),
		Retryable:  retryable,
		OccurredAt: time.Now().UTC(),
	})
}

func (s *Scheduler) submitStep(userID string, delay time.Duration) {
	fn := func(ctx context.Context) error {
		_, err := s.Step(ctx, userID)
		return err
	}
	if delay <= 0 {
		s.tasks.SubmitNow("sync_step", fn)
		return
	}
	s.tasks.SubmitDelayed("sync_step", fn, delay)
}
