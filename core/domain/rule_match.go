package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchReason records why one condition type of a rule was satisfied.
type MatchReason struct {
	Type      ConditionType `json:"type"`
	Detail    string        `json:"detail,omitempty"`
	GroupItem *GroupItem    `json:"group_item,omitempty"`
	Category  *Category     `json:"category,omitempty"`
}

func (r MatchReason) String() string {
	switch r.Type {
	case ConditionStatic:
		return "Matched static conditions"
	case ConditionGroup:
		return fmt.Sprintf("Matched group item: %q", r.Detail)
	case ConditionCategory:
		if r.Detail == "" {
			return "Matched category filter"
		}
		return fmt.Sprintf("Matched category: %q", r.Detail)
	case ConditionAI:
		if r.Detail == "" {
			return "Matched by AI"
		}
		return r.Detail
	default:
		return r.Detail
	}
}

// MatchReasons is the ordered list of satisfied conditions of a match.
type MatchReasons []MatchReason

// String renders the reasons as one human-readable sentence.
func (rs MatchReasons) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// Types returns the condition types that fired, in order.
func (rs MatchReasons) Types() []ConditionType {
	types := make([]ConditionType, len(rs))
	for i, r := range rs {
		types[i] = r.Type
	}
	return types
}

// PotentialMatch is an AI rule that deterministic conditions could not settle.
type PotentialMatch struct {
	Rule         *Rule  `json:"rule"`
	Instructions string `json:"instructions"`
	// Reasons holds the deterministic conditions already satisfied, if any.
	Reasons MatchReasons `json:"reasons,omitempty"`
}

// MatchResult is the outcome of matching one message: a rule with reasons, or nothing.
type MatchResult struct {
	Rule    *Rule        `json:"rule,omitempty"`
	Reasons MatchReasons `json:"reasons,omitempty"`
}

// Matched reports whether a rule was selected.
func (m *MatchResult) Matched() bool {
	return m != nil && m.Rule != nil
}

// Reason renders the match reasons, empty when nothing matched.
func (m *MatchResult) Reason() string {
	if !m.Matched() {
		return ""
	}
	return m.Reasons.String()
}

// DecidedBy returns the condition type of the last reason, i.e. the one that
// settled the match.
func (m *MatchResult) DecidedBy() (ConditionType, bool) {
	if !m.Matched() || len(m.Reasons) == 0 {
		return 0, false
	}
	return m.Reasons[len(m.Reasons)-1].Type, true
}

// ExecutedRuleStatus is the outcome of running rules on a message.
type ExecutedRuleStatus string

const (
	ExecutedRuleApplied ExecutedRuleStatus = "applied"
	ExecutedRuleNoMatch ExecutedRuleStatus = "no_match"
	ExecutedRuleError   ExecutedRuleStatus = "error"
)

// ExecutedRule is the history record of one rule run on a message.
type ExecutedRule struct {
	ID        uuid.UUID          `json:"id"`
	UserID    uuid.UUID          `json:"user_id"`
	MessageID string             `json:"message_id"`
	ThreadID  string             `json:"thread_id"`
	RuleID    *int64             `json:"rule_id,omitempty"`
	RuleName  string             `json:"rule_name,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Actions   []ActionType       `json:"actions,omitempty"`
	Status    ExecutedRuleStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
	Automated bool               `json:"automated"`
	CreatedAt time.Time          `json:"created_at"`
}
