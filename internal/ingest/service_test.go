package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wearsync/internal/adapter"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/models"
	"github.com/wearsync/internal/types"
)

type fakeRecordSink struct {
	sleep    []*models.SleepRecord
	activity []*models.ActivityRecord
	workouts []*models.WorkoutRecord
	err      error
}

func (f *fakeRecordSink) UpsertSleep(ctx context.Context, rec *models.SleepRecord) error {
	if f.err != nil {
		return f.err
	}
	f.sleep = append(f.sleep, rec)
	return nil
}

func (f *fakeRecordSink) UpsertActivity(ctx context.Context, rec *models.ActivityRecord) error {
	if f.err != nil {
		return f.err
	}
	f.activity = append(f.activity, rec)
	return nil
}

func (f *fakeRecordSink) InsertWorkouts(ctx context.Context, workouts []*models.WorkoutRecord) error {
	if f.err != nil {
		return f.err
	}
	f.workouts = append(f.workouts, workouts...)
	return nil
}

type fakeSampleSink struct {
	samples []*models.Sample
	err     error
}

func (f *fakeSampleSink) BatchInsert(ctx context.Context, samples []*models.Sample) error {
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, samples...)
	return nil
}

func setupService(t *testing.T) (*Service, *fakeRecordSink, *fakeSampleSink) {
	t.Helper()
	records := &fakeRecordSink{}
	samples := &fakeSampleSink{}
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	return NewService(records, samples, logger), records, samples
}

func TestSave(t *testing.T) {
	ctx := context.Background()

	t.Run("sleep summaries land in the record sink", func(t *testing.T) {
		svc, records, _ := setupService(t)

		saved, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataTypeSleep,
			Sleep: []adapter.SleepSummary{
				{Date: "2025-06-08", TotalMinutes: 412, Efficiency: 0.88},
				{Date: "2025-06-09", TotalMinutes: 431, Efficiency: 0.92},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, saved)
		require.Len(t, records.sleep, 2)
		assert.Equal(t, "user-1", records.sleep[0].UserID)
		assert.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), records.sleep[0].Date)
		assert.Equal(t, 412, records.sleep[0].TotalMinutes)
	})

	t.Run("activity summaries land in the record sink", func(t *testing.T) {
		svc, records, _ := setupService(t)

		saved, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataTypeDailyActivity,
			Activity: []adapter.ActivitySummary{
				{Date: "2025-06-09", Steps: 10432, DistanceMeters: 8120.5},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, saved)
		require.Len(t, records.activity, 1)
		assert.Equal(t, 10432, records.activity[0].Steps)
	})

	t.Run("workouts are inserted as a batch", func(t *testing.T) {
		svc, records, _ := setupService(t)
		start := time.Date(2025, 6, 9, 7, 0, 0, 0, time.UTC)

		saved, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataTypeWorkout,
			Workouts: []adapter.WorkoutSummary{
				{ID: "w-1", Sport: "running", StartedAt: start, EndedAt: start.Add(40 * time.Minute)},
				{ID: "w-2", Sport: "cycling", StartedAt: start.Add(time.Hour), EndedAt: start.Add(2 * time.Hour)},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, saved)
		require.Len(t, records.workouts, 2)
		assert.Equal(t, "w-1", records.workouts[0].ExternalID)
	})

	t.Run("workout without an external id is rejected", func(t *testing.T) {
		svc, records, _ := setupService(t)

		_, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataTypeWorkout,
			Workouts: []adapter.WorkoutSummary{{Sport: "running"}},
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsStructural(err))
		assert.Empty(t, records.workouts)
	})

	t.Run("intraday series land in the sample sink", func(t *testing.T) {
		svc, _, samples := setupService(t)
		at := time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)

		saved, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataTypeHeartRate,
			Series: &adapter.SeriesPayload{
				SampleType: "heart_rate",
				Points: []adapter.SamplePoint{
					{At: at, Value: 61},
					{At: at.Add(time.Minute), Value: 64},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, saved)
		require.Len(t, samples.samples, 2)
		assert.Equal(t, "heart_rate", samples.samples[0].SampleType)
		assert.Equal(t, 61.0, samples.samples[0].Value)
	})

	t.Run("payload without a sink is skipped", func(t *testing.T) {
		svc, records, samples := setupService(t)

		saved, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataType("skin_conductance"),
			Raw:      []byte(`{"something":"new"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, saved)
		assert.Empty(t, records.sleep)
		assert.Empty(t, samples.samples)
	})

	t.Run("unparseable date is a malformed payload", func(t *testing.T) {
		svc, _, _ := setupService(t)

		_, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataTypeSleep,
			Sleep:    []adapter.SleepSummary{{Date: "June 9th"}},
		})
		require.Error(t, err)
		assert.Equal(t, "MALFORMED_PAYLOAD", apperrors.Categorize(err).Code)
	})

	t.Run("sink errors surface unchanged", func(t *testing.T) {
		svc, records, _ := setupService(t)
		records.err = assert.AnError

		_, err := svc.Save(ctx, "user-1", &adapter.Payload{
			DataType: types.DataTypeSleep,
			Sleep:    []adapter.SleepSummary{{Date: "2025-06-09"}},
		})
		assert.ErrorIs(t, err, assert.AnError)
	})
}
