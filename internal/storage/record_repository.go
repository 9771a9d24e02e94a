package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/wearsync/internal/models"
)

// RecordRepository persists normalized daily summaries and workouts.
type RecordRepository struct {
	db *PostgresDB
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *PostgresDB) *RecordRepository {
	return &RecordRepository{db: db}
}

// UpsertSleep writes a nightly sleep summary, replacing any earlier copy for
// the same user and date. Re-ingesting an already covered window is a no-op
// beyond refreshing synced_at.
func (r *RecordRepository) UpsertSleep(ctx context.Context, rec *models.SleepRecord) error {
	rec.SyncedAt = time.Now().UTC()

	query := `
		INSERT INTO sleep_records (user_id, date, total_minutes, deep_minutes, rem_minutes, light_minutes, awake_minutes, efficiency, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, date)
		DO UPDATE SET total_minutes = $3, deep_minutes = $4, rem_minutes = $5, light_minutes = $6, awake_minutes = $7, efficiency = $8, synced_at = $9
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rec.UserID,
		rec.Date,
		rec.TotalMinutes,
		rec.DeepMinutes,
		rec.RemMinutes,
		rec.LightMinutes,
		rec.AwakeMinutes,
		rec.Efficiency,
		rec.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sleep record: %w", err)
	}

	return nil
}

// UpsertActivity writes a daily activity summary keyed by user and date.
func (r *RecordRepository) UpsertActivity(ctx context.Context, rec *models.ActivityRecord) error {
	rec.SyncedAt = time.Now().UTC()

	query := `
		INSERT INTO activity_records (user_id, date, steps, distance_meters, calories, active_minutes, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, date)
		DO UPDATE SET steps = $3, distance_meters = $4, calories = $5, active_minutes = $6, synced_at = $7
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rec.UserID,
		rec.Date,
		rec.Steps,
		rec.DistanceMeters,
		rec.Calories,
		rec.ActiveMinutes,
		rec.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert activity record: %w", err)
	}

	return nil
}

// InsertWorkouts writes a batch of workout sessions, keyed by the provider's
// external workout ID so redelivered payloads do not duplicate rows.
func (r *RecordRepository) InsertWorkouts(ctx context.Context, workouts []*models.WorkoutRecord) error {
	if len(workouts) == 0 {
		return nil
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO workout_records (user_id, external_id, sport, started_at, ended_at, calories, avg_heart_rate, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, external_id)
		DO UPDATE SET sport = $3, started_at = $4, ended_at = $5, calories = $6, avg_heart_rate = $7, synced_at = $8
	`

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	for _, w := range workouts {
		w.SyncedAt = now
		if _, err := tx.Exec(ctx, query,
			w.UserID,
			w.ExternalID,
			w.Sport,
			w.StartedAt,
			w.EndedAt,
			w.Calories,
			w.AvgHeartRate,
			w.SyncedAt,
		); err != nil {
			return fmt.Errorf("failed to insert workout %s: %w", w.ExternalID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit workouts: %w", err)
	}

	return nil
}
