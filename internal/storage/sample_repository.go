package storage

import (
	"context"
	"fmt"

	"github.com/wearsync/internal/models"
)

// SampleRepository archives intraday time-series samples in ClickHouse.
type SampleRepository struct {
	db *ClickHouseDB
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(db *ClickHouseDB) *SampleRepository {
	return &SampleRepository{db: db}
}

// BatchInsert writes a batch of samples. The table uses ReplacingMergeTree
// keyed on (user_id, sample_type, at), so redelivered chunks converge.
func (r *SampleRepository) BatchInsert(ctx context.Context, samples []*models.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO intraday_samples (user_id, sample_type, at, value)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, s := range samples {
		if err := batch.Append(
			s.UserID,
			s.SampleType,
			s.At,
			s.Value,
		); err != nil {
			return fmt.Errorf("failed to append sample: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// CountForUser returns the number of archived samples of a type for a user.
// Used by the status endpoints to report ingest progress.
func (r *SampleRepository) CountForUser(ctx context.Context, userID, sampleType string) (uint64, error) {
	var count uint64
	err := r.db.Conn().QueryRow(ctx, `
		SELECT count() FROM intraday_samples WHERE user_id = ? AND sample_type = ?
	`, userID, sampleType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}
