package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rule_server/core/port/out"
	"rule_server/pkg/crypto"
	"rule_server/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// OAuthAdapter implements out.OAuthRepository using PostgreSQL.
type OAuthAdapter struct {
	db     *sqlx.DB
	cipher *crypto.TokenCipher
}

// NewOAuthAdapter creates a new OAuthAdapter. A nil cipher reads tokens as stored.
func NewOAuthAdapter(db *sqlx.DB, cipher *crypto.TokenCipher) *OAuthAdapter {
	if cipher == nil {
		logger.Warn("Token encryption disabled")
	}
	return &OAuthAdapter{db: db, cipher: cipher}
}

var _ out.OAuthRepository = (*OAuthAdapter)(nil)

// GetByUser returns the user's connected account for provider.
func (a *OAuthAdapter) GetByUser(ctx context.Context, userID uuid.UUID, provider string) (*out.OAuthConnectionEntity, error) {
	var entity out.OAuthConnectionEntity
	query := `SELECT id, user_id, provider, email, access_token, refresh_token, expires_at,
			is_connected, created_at, updated_at
		FROM oauth_connections
		WHERE user_id = $1 AND provider = $2
		ORDER BY is_connected DESC, updated_at DESC
		LIMIT 1`

	if err := a.db.GetContext(ctx, &entity, query, userID, provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get oauth connection: %w", err)
	}

	if err := a.decryptTokens(&entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (a *OAuthAdapter) decryptTokens(entity *out.OAuthConnectionEntity) error {
	if a.cipher == nil {
		if crypto.IsEncrypted(entity.AccessToken) || crypto.IsEncrypted(entity.RefreshToken) {
			return fmt.Errorf("oauth connection %d holds encrypted tokens but no key is configured", entity.ID)
		}
		return nil
	}

	access, err := a.cipher.Decrypt(entity.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := a.cipher.Decrypt(entity.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	entity.AccessToken = access
	entity.RefreshToken = refresh
	return nil
}
