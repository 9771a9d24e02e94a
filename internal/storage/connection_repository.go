package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/models"
	"github.com/wearsync/internal/types"
)

// ConnectionRepository handles provider connection persistence
type ConnectionRepository struct {
	db *PostgresDB
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *PostgresDB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// GetActiveConnection returns the non-revoked connection for a user and
// provider, or a structural connection-not-found error.
func (r *ConnectionRepository) GetActiveConnection(ctx context.Context, userID string, provider types.Provider) (*models.Connection, error) {
	query := `
		SELECT user_id, provider, access_token, refresh_token, expires_at, revoked, created_at, updated_at
		FROM provider_connections
		WHERE user_id = $1 AND provider = $2 AND revoked = false
	`

	var conn models.Connection
	err := r.db.Pool().QueryRow(ctx, query, userID, string(provider)).Scan(
		&conn.UserID,
		&conn.Provider,
		&conn.AccessToken,
		&conn.RefreshToken,
		&conn.ExpiresAt,
		&conn.Revoked,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewConnectionNotFoundError(userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &conn, nil
}

// Upsert creates or replaces a user's provider connection.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *models.Connection) error {
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	query := `
		INSERT INTO provider_connections (user_id, provider, access_token, refresh_token, expires_at, revoked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET access_token = $3, refresh_token = $4, expires_at = $5, revoked = $6, updated_at = $8
	`

	_, err := r.db.Pool().Exec(ctx, query,
		conn.UserID,
		string(conn.Provider),
		conn.AccessToken,
		conn.RefreshToken,
		conn.ExpiresAt,
		conn.Revoked,
		conn.CreatedAt,
		conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	return nil
}

// MarkRevoked flags a connection revoked after the provider rejects its
// credentials, so subsequent sessions fail fast with a structural error.
func (r *ConnectionRepository) MarkRevoked(ctx context.Context, userID string, provider types.Provider) error {
	query := `
		UPDATE provider_connections SET revoked = true, updated_at = $3
		WHERE user_id = $1 AND provider = $2
	`

	_, err := r.db.Pool().Exec(ctx, query, userID, string(provider), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke connection: %w", err)
	}

	return nil
}
