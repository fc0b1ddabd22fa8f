package in

import (
	"context"
	"time"

	"rule_server/core/domain"

	"github.com/google/uuid"
)

// RuleMatcher selects the single rule that governs a message.
type RuleMatcher interface {
	FindMatchingRule(ctx context.Context, rules []*domain.Rule, msg *domain.ParsedMessage, user *domain.UserAIFields) (*domain.MatchResult, error)
}

// RuleService is the rule use-case surface exposed to the API and workers.
type RuleService interface {
	// TestMessage matches msg against the user's rules without side effects.
	TestMessage(ctx context.Context, userID uuid.UUID, msg *domain.ParsedMessage) (*domain.MatchResult, error)

	// RunOnMessage matches msg and, unless opts.Test, applies the winning rule.
	RunOnMessage(ctx context.Context, userID uuid.UUID, msg *domain.ParsedMessage, opts RunOptions) (*RunResult, error)

	// RunOnMessageID fetches the message from the provider and runs rules on it.
	RunOnMessageID(ctx context.Context, userID uuid.UUID, messageID string) (*RunResult, error)

	// EnqueueBulk queues a run for every unprocessed inbox message in the window.
	EnqueueBulk(ctx context.Context, userID uuid.UUID, req *BulkRunRequest) (*BulkRunResult, error)

	History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExecutedRule, error)
}

// RunOptions controls side effects of a rule run.
type RunOptions struct {
	Test bool
}

// RunResult is the match and what was done about it.
type RunResult struct {
	Match    *domain.MatchResult  `json:"match"`
	Executed *domain.ExecutedRule `json:"executed,omitempty"`
}

// BulkRunRequest bounds a bulk run by date.
type BulkRunRequest struct {
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// BulkRunResult reports how many jobs were queued.
type BulkRunResult struct {
	Listed   int `json:"listed"`
	Skipped  int `json:"skipped"`
	Enqueued int `json:"enqueued"`
}
