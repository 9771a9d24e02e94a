// Package models defines persistence-layer records for the wearable sync service.
package models

import (
	"time"

	"github.com/wearsync/internal/types"
)

// Connection represents an active provider authorization for a user.
// Token refresh happens upstream; consumers either get a usable access token
// or a clear authorization error.
type Connection struct {
	UserID       string         `json:"userId" db:"user_id"`
	Provider     types.Provider `json:"provider" db:"provider"`
	AccessToken  string         `json:"-" db:"access_token"`
	RefreshToken string         `json:"-" db:"refresh_token"`
	ExpiresAt    time.Time      `json:"expiresAt" db:"expires_at"`
	Revoked      bool           `json:"revoked" db:"revoked"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}
