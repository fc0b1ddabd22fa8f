package out

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OAuthRepository stores mail provider credentials.
type OAuthRepository interface {
	// GetByUser returns the user's connection for provider, nil, nil when absent.
	GetByUser(ctx context.Context, userID uuid.UUID, provider string) (*OAuthConnectionEntity, error)
}

// OAuthConnectionEntity represents an OAuth connection in persistence.
type OAuthConnectionEntity struct {
	ID           int64     `db:"id"`
	UserID       uuid.UUID `db:"user_id"`
	Provider     string    `db:"provider"`
	Email        string    `db:"email"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	IsConnected  bool      `db:"is_connected"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
