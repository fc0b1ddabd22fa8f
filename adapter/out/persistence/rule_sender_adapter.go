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

// SenderAdapter implements out.SenderRepository using PostgreSQL.
type SenderAdapter struct {
	db *sqlx.DB
}

// NewSenderAdapter creates a new SenderAdapter.
func NewSenderAdapter(db *sqlx.DB) *SenderAdapter {
	return &SenderAdapter{db: db}
}

var _ out.SenderRepository = (*SenderAdapter)(nil)

type senderRow struct {
	Email        string         `db:"email"`
	UserID       uuid.UUID      `db:"user_id"`
	CategoryID   sql.NullInt64  `db:"category_id"`
	CategoryName sql.NullString `db:"category_name"`
}

func (r *senderRow) toEntity() *domain.Sender {
	sender := &domain.Sender{
		Email:        r.Email,
		UserID:       r.UserID,
		CategoryName: r.CategoryName.String,
	}
	if r.CategoryID.Valid {
		id := r.CategoryID.Int64
		sender.CategoryID = &id
	}
	return sender
}

// GetSender looks up a sender by address, case-insensitively.
func (a *SenderAdapter) GetSender(ctx context.Context, userID uuid.UUID, email string) (*domain.Sender, error) {
	if email == "" {
		return nil, nil
	}

	var row senderRow
	query := `SELECT s.email, s.user_id, s.category_id, c.name AS category_name
		FROM senders s
		LEFT JOIN categories c ON c.id = s.category_id
		WHERE s.user_id = $1 AND lower(s.email) = lower($2)
		LIMIT 1`

	if err := a.db.GetContext(ctx, &row, query, userID, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sender: %w", err)
	}

	return row.toEntity(), nil
}
