package out

import (
	"context"

	"rule_server/core/domain"
)

// RuleChooser is the language-model oracle that picks among potential matches.
type RuleChooser interface {
	// ChooseRule returns nil, nil when the oracle selects no rule.
	ChooseRule(ctx context.Context, input *ChooseRuleInput) (*ChooseRuleOutput, error)
}

// ChooseRuleInput carries the message and the unresolved AI rules.
type ChooseRuleInput struct {
	Message    *domain.ParsedMessage
	Candidates []domain.PotentialMatch
	User       *domain.UserAIFields
}

// ChooseRuleOutput is the oracle's selection.
type ChooseRuleOutput struct {
	RuleID int64
	Reason string
}
