package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rule_server/core/domain"
	"rule_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UserAdapter implements out.UserRepository using PostgreSQL.
type UserAdapter struct {
	db *sqlx.DB
}

// NewUserAdapter creates a new UserAdapter.
func NewUserAdapter(db *sqlx.DB) *UserAdapter {
	return &UserAdapter{db: db}
}

var _ out.UserRepository = (*UserAdapter)(nil)

type userRow struct {
	ID    uuid.UUID      `db:"id"`
	Email string         `db:"email"`
	About sql.NullString `db:"about"`
}

// GetAIFields returns nil, nil for an unknown user.
func (a *UserAdapter) GetAIFields(ctx context.Context, userID uuid.UUID) (*domain.UserAIFields, error) {
	var row userRow
	query := `SELECT id, email, about FROM users WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &domain.UserAIFields{ID: row.ID, Email: row.Email, About: row.About.String}, nil
}
