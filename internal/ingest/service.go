// Package ingest normalizes provider payloads into the summary tables and
// the intraday sample archive.
package ingest

import (
	"context"
	"time"

	"github.com/wearsync/internal/adapter"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/models"
	"github.com/wearsync/internal/types"
)

// RecordSink persists normalized summary records.
type RecordSink interface {
	UpsertSleep(ctx context.Context, rec *models.SleepRecord) error
	UpsertActivity(ctx context.Context, rec *models.ActivityRecord) error
	InsertWorkouts(ctx context.Context, workouts []*models.WorkoutRecord) error
}

// SampleSink archives intraday samples.
type SampleSink interface {
	BatchInsert(ctx context.Context, samples []*models.Sample) error
}

// Service routes decoded payloads to the right sink.
type Service struct {
	records RecordSink
	samples SampleSink
	logger  *logging.Logger
}

// NewService creates an ingest service.
func NewService(records RecordSink, samples SampleSink, logger *logging.Logger) *Service {
	return &Service{
		records: records,
		samples: samples,
		logger:  logger.WithField("component", "ingest"),
	}
}

// Save persists one payload and returns the number of records written.
// Payloads for data types without a normalized shape are logged and skipped
// rather than failing the chunk; the provider adds stream types faster than
// we add tables.
func (s *Service) Save(ctx context.Context, userID string, payload *adapter.Payload) (int, error) {
	switch payload.DataType {
	case types.DataTypeSleep:
		return s.saveSleep(ctx, userID, payload.Sleep)

	case types.DataTypeDailyActivity:
		return s.saveActivity(ctx, userID, payload.Activity)

	case types.DataTypeWorkout:
		return s.saveWorkouts(ctx, userID, payload.Workouts)

	default:
		if payload.Series != nil {
			return s.saveSeries(ctx, userID, payload.Series)
		}
		s.logger.WithFields(map[string]interface{}{
			"user_id":   userID,
			"data_type": string(payload.DataType),
		}).Debug("No sink for data type, skipping payload")
		return 0, nil
	}
}

func (s *Service) saveSleep(ctx context.Context, userID string, summaries []adapter.SleepSummary) (int, error) {
	saved := 0
	for _, sum := range summaries {
		date, err := time.Parse("2006-01-02", sum.Date)
		if err != nil {
			return saved, apperrors.NewMalformedPayloadError(types.DataTypeSleep, err)
		}
		rec := &models.SleepRecord{
			UserID:       userID,
			Date:         date,
			TotalMinutes: sum.TotalMinutes,
			DeepMinutes:  sum.DeepMinutes,
			RemMinutes:   sum.RemMinutes,
			LightMinutes: sum.LightMinutes,
			AwakeMinutes: sum.AwakeMinutes,
			Efficiency:   sum.Efficiency,
		}
		if err := s.records.UpsertSleep(ctx, rec); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func (s *Service) saveActivity(ctx context.Context, userID string, summaries []adapter.ActivitySummary) (int, error) {
	saved := 0
	for _, sum := range summaries {
		date, err := time.Parse("2006-01-02", sum.Date)
		if err != nil {
			return saved, apperrors.NewMalformedPayloadError(types.DataTypeDailyActivity, err)
		}
		rec := &models.ActivityRecord{
			UserID:         userID,
			Date:           date,
			Steps:          sum.Steps,
			DistanceMeters: sum.DistanceMeters,
			Calories:       sum.Calories,
			ActiveMinutes:  sum.ActiveMinutes,
		}
		if err := s.records.UpsertActivity(ctx, rec); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func (s *Service) saveWorkouts(ctx context.Context, userID string, summaries []adapter.WorkoutSummary) (int, error) {
	if len(summaries) == 0 {
		return 0, nil
	}

	workouts := make([]*models.WorkoutRecord, 0, len(summaries))
	for _, sum := range summaries {
		if sum.ID == "" {
			return 0, apperrors.NewMalformedPayloadError(types.DataTypeWorkout,
				&types.ServiceError{Code: "MISSING_ID", Message: "workout without external id"})
		}
		workouts = append(workouts, &models.WorkoutRecord{
			UserID:       userID,
			ExternalID:   sum.ID,
			Sport:        sum.Sport,
			StartedAt:    sum.StartedAt,
			EndedAt:      sum.EndedAt,
			Calories:     sum.Calories,
			AvgHeartRate: sum.AvgHeartRate,
		})
	}

	if err := s.records.InsertWorkouts(ctx, workouts); err != nil {
		return 0, err
	}
	return len(workouts), nil
}

func (s *Service) saveSeries(ctx context.Context, userID string, series *adapter.SeriesPayload) (int, error) {
	if len(series.Points) == 0 {
		return 0, nil
	}

	samples := make([]*models.Sample, 0, len(series.Points))
	for _, p := range series.Points {
		samples = append(samples, &models.Sample{
			UserID:     userID,
			SampleType: series.SampleType,
			At:         p.At,
			Value:      p.Value,
		})
	}

	if err := s.samples.BatchInsert(ctx, samples); err != nil {
		return 0, err
	}
	return len(samples), nil
}
