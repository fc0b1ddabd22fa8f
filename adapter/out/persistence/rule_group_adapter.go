package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GroupAdapter implements out.GroupRepository using PostgreSQL.
type GroupAdapter struct {
	db *sqlx.DB
}

// NewGroupAdapter creates a new GroupAdapter.
func NewGroupAdapter(db *sqlx.DB) *GroupAdapter {
	return &GroupAdapter{db: db}
}

var _ out.GroupRepository = (*GroupAdapter)(nil)

type groupRow struct {
	ID       int64          `db:"id"`
	UserID   uuid.UUID      `db:"user_id"`
	Name     string         `db:"name"`
	RuleID   sql.NullInt64  `db:"rule_id"`
	RuleName sql.NullString `db:"rule_name"`
}

type groupItemRow struct {
	ID        int64     `db:"id"`
	GroupID   int64     `db:"group_id"`
	Type      string    `db:"type"`
	Value     string    `db:"value"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *groupItemRow) toEntity() domain.GroupItem {
	return domain.GroupItem{
		ID:        r.ID,
		GroupID:   r.GroupID,
		Type:      domain.ParseGroupItemType(r.Type),
		Value:     r.Value,
		CreatedAt: r.CreatedAt,
	}
}

// ListGroupsWithRules returns the user's groups, each joined with the rule
// referencing it, with items in insertion order.
func (a *GroupAdapter) ListGroupsWithRules(ctx context.Context, userID uuid.UUID) ([]*domain.GroupWithRule, error) {
	var rows []groupRow
	query := `SELECT g.id, g.user_id, g.name, r.id AS rule_id, r.name AS rule_name
		FROM groups g
		LEFT JOIN rules r ON r.group_id = g.id
		WHERE g.user_id = $1
		ORDER BY g.id`

	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	groups := make([]*domain.GroupWithRule, len(rows))
	byID := make(map[int64][]*domain.GroupWithRule, len(rows))
	ids := make([]int64, 0, len(rows))
	for i, row := range rows {
		g := &domain.GroupWithRule{
			Group: domain.Group{ID: row.ID, UserID: row.UserID, Name: row.Name},
		}
		if row.RuleID.Valid {
			id := row.RuleID.Int64
			g.RuleID = &id
			g.RuleName = row.RuleName.String
		}
		groups[i] = g
		if _, seen := byID[row.ID]; !seen {
			ids = append(ids, row.ID)
		}
		byID[row.ID] = append(byID[row.ID], g)
	}

	var items []groupItemRow
	itemQuery := `SELECT id, group_id, type, value, created_at FROM group_items
		WHERE group_id = ANY($1)
		ORDER BY created_at, id`
	if err := a.db.SelectContext(ctx, &items, itemQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list group items: %w", err)
	}
	for i := range items {
		for _, g := range byID[items[i].GroupID] {
			g.Items = append(g.Items, items[i].toEntity())
		}
	}

	return groups, nil
}
