// Package persistence provides PostgreSQL adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RuleAdapter implements out.RuleRepository using PostgreSQL.
type RuleAdapter struct {
	db *sqlx.DB
}

// NewRuleAdapter creates a new RuleAdapter.
func NewRuleAdapter(db *sqlx.DB) *RuleAdapter {
	return &RuleAdapter{db: db}
}

var _ out.RuleRepository = (*RuleAdapter)(nil)

type ruleRow struct {
	ID                  int64          `db:"id"`
	UserID              uuid.UUID      `db:"user_id"`
	Name                string         `db:"name"`
	Position            int            `db:"position"`
	Enabled             bool           `db:"enabled"`
	RunOnThreads        bool           `db:"run_on_threads"`
	ConditionalOperator string         `db:"conditional_operator"`
	FromPattern         sql.NullString `db:"from_pattern"`
	ToPattern           sql.NullString `db:"to_pattern"`
	SubjectPattern      sql.NullString `db:"subject_pattern"`
	BodyPattern         sql.NullString `db:"body_pattern"`
	Instructions        sql.NullString `db:"instructions"`
	GroupID             sql.NullInt64  `db:"group_id"`
	CategoryFilterType  sql.NullString `db:"category_filter_type"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r *ruleRow) toEntity() *domain.Rule {
	rule := &domain.Rule{
		ID:                  r.ID,
		UserID:              r.UserID,
		Name:                r.Name,
		Position:            r.Position,
		Enabled:             r.Enabled,
		RunOnThreads:        r.RunOnThreads,
		ConditionalOperator: domain.LogicalOperator(r.ConditionalOperator),
		From:                r.FromPattern.String,
		To:                  r.ToPattern.String,
		Subject:             r.SubjectPattern.String,
		Body:                r.BodyPattern.String,
		Instructions:        r.Instructions.String,
		CategoryFilterType:  domain.CategoryFilterType(r.CategoryFilterType.String),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.GroupID.Valid {
		id := r.GroupID.Int64
		rule.GroupID = &id
	}
	return rule
}

type categoryFilterRow struct {
	RuleID      int64          `db:"rule_id"`
	ID          int64          `db:"id"`
	UserID      uuid.UUID      `db:"user_id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
}

type actionRow struct {
	RuleID int64          `db:"rule_id"`
	ID     int64          `db:"id"`
	Type   string         `db:"type"`
	Label  sql.NullString `db:"label"`
}

const ruleColumns = `id, user_id, name, position, enabled, run_on_threads, conditional_operator,
	from_pattern, to_pattern, subject_pattern, body_pattern, instructions,
	group_id, category_filter_type, created_at, updated_at`

// ListEnabledByUser returns enabled rules ordered by position, with category
// filters and actions attached.
func (a *RuleAdapter) ListEnabledByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Rule, error) {
	var rows []ruleRow
	query := `SELECT ` + ruleColumns + ` FROM rules
		WHERE user_id = $1 AND enabled = true
		ORDER BY position ASC, id ASC`

	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]*domain.Rule, len(rows))
	for i := range rows {
		rules[i] = rows[i].toEntity()
	}

	if err := a.attachRelations(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// GetByID retrieves a rule by ID.
func (a *RuleAdapter) GetByID(ctx context.Context, userID uuid.UUID, ruleID int64) (*domain.Rule, error) {
	var row ruleRow
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE user_id = $1 AND id = $2`

	if err := a.db.GetContext(ctx, &row, query, userID, ruleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	rule := row.toEntity()
	if err := a.attachRelations(ctx, []*domain.Rule{rule}); err != nil {
		return nil, err
	}
	return rule, nil
}

// attachRelations loads category filters and actions for all rules in two queries.
func (a *RuleAdapter) attachRelations(ctx context.Context, rules []*domain.Rule) error {
	if len(rules) == 0 {
		return nil
	}

	byID := make(map[int64]*domain.Rule, len(rules))
	ids := make([]int64, len(rules))
	for i, r := range rules {
		byID[r.ID] = r
		ids[i] = r.ID
	}

	var filters []categoryFilterRow
	filterQuery := `SELECT f.rule_id, c.id, c.user_id, c.name, c.description
		FROM rule_category_filters f
		JOIN categories c ON c.id = f.category_id
		WHERE f.rule_id = ANY($1)
		ORDER BY f.rule_id, c.id`
	if err := a.db.SelectContext(ctx, &filters, filterQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to list category filters: %w", err)
	}
	for _, f := range filters {
		if r, ok := byID[f.RuleID]; ok {
			r.CategoryFilters = append(r.CategoryFilters, domain.Category{
				ID:          f.ID,
				UserID:      f.UserID,
				Name:        f.Name,
				Description: f.Description.String,
			})
		}
	}

	var actions []actionRow
	actionQuery := `SELECT rule_id, id, type, label FROM actions
		WHERE rule_id = ANY($1)
		ORDER BY rule_id, id`
	if err := a.db.SelectContext(ctx, &actions, actionQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}
	for _, act := range actions {
		if r, ok := byID[act.RuleID]; ok {
			r.Actions = append(r.Actions, domain.Action{
				ID:    act.ID,
				Type:  domain.ActionType(act.Type),
				Label: act.Label.String,
			})
		}
	}

	return nil
}
