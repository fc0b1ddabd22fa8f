package out

import (
	"context"

	"rule_server/core/domain"

	"github.com/google/uuid"
)

// RuleRepository loads a user's rules with their category filters and actions.
type RuleRepository interface {
	// ListEnabledByUser returns enabled rules ordered by position.
	ListEnabledByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Rule, error)

	// GetByID returns nil, nil when the rule does not exist.
	GetByID(ctx context.Context, userID uuid.UUID, ruleID int64) (*domain.Rule, error)
}

// GroupRepository is the group half of the data-store collaborator.
type GroupRepository interface {
	// ListGroupsWithRules returns all of a user's groups with their items in
	// insertion order, joined with the rule that references each group.
	ListGroupsWithRules(ctx context.Context, userID uuid.UUID) ([]*domain.GroupWithRule, error)
}

// SenderRepository is the category half of the data-store collaborator.
type SenderRepository interface {
	// GetSender returns nil, nil for an unknown sender.
	GetSender(ctx context.Context, userID uuid.UUID, email string) (*domain.Sender, error)
}

// UserRepository loads the profile handed to the oracle.
type UserRepository interface {
	GetAIFields(ctx context.Context, userID uuid.UUID) (*domain.UserAIFields, error)
}

// ExecutedRuleRepository stores the history of rule runs.
type ExecutedRuleRepository interface {
	Save(ctx context.Context, executed *domain.ExecutedRule) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExecutedRule, error)
}
