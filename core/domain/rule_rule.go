package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogicalOperator combines the condition types of a rule.
type LogicalOperator string

const (
	LogicalOperatorAnd LogicalOperator = "AND"
	LogicalOperatorOr  LogicalOperator = "OR"
)

// CategoryFilterType says whether a rule's category list is an allow or a deny list.
type CategoryFilterType string

const (
	CategoryFilterInclude CategoryFilterType = "INCLUDE"
	CategoryFilterExclude CategoryFilterType = "EXCLUDE"
)

// ActionType is what happens to a message once a rule matches it.
type ActionType string

const (
	ActionLabel         ActionType = "LABEL"
	ActionArchive       ActionType = "ARCHIVE"
	ActionMarkRead      ActionType = "MARK_READ"
	ActionMarkImportant ActionType = "MARK_IMPORTANT"
)

// Action is one step a matched rule performs.
type Action struct {
	ID    int64      `json:"id"`
	Type  ActionType `json:"type"`
	Label string     `json:"label,omitempty"`
}

// Category is a label assigned to senders, e.g. "Newsletter" or "Cold Email".
type Category struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// Rule is a user-defined automation: conditions plus the actions to take.
type Rule struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Name         string    `json:"name"`
	Position     int       `json:"position"`
	Enabled      bool      `json:"enabled"`
	RunOnThreads bool      `json:"run_on_threads"`

	ConditionalOperator LogicalOperator `json:"conditional_operator"`

	// Static conditions, each a regular expression. Empty means unset.
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`

	// Instructions are the free-text conditions judged by the oracle.
	Instructions string `json:"instructions,omitempty"`

	GroupID *int64 `json:"group_id,omitempty"`

	CategoryFilterType CategoryFilterType `json:"category_filter_type,omitempty"`
	CategoryFilters    []Category         `json:"category_filters,omitempty"`

	Actions []Action `json:"actions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operator returns the rule's logical operator, AND when unset.
func (r *Rule) Operator() LogicalOperator {
	if r.ConditionalOperator == LogicalOperatorOr {
		return LogicalOperatorOr
	}
	return LogicalOperatorAnd
}

// HasStaticConditions reports whether any of the four static patterns is set.
func (r *Rule) HasStaticConditions() bool {
	return r.From != "" || r.To != "" || r.Subject != "" || r.Body != ""
}

// IsAIRule reports whether the rule carries instructions for the oracle.
func (r *Rule) IsAIRule() bool {
	return strings.TrimSpace(r.Instructions) != ""
}

// Conditions derives the rule's condition types from its populated fields.
func (r *Rule) Conditions() ConditionSet {
	var set ConditionSet
	if r.HasStaticConditions() {
		set = set.Add(ConditionStatic)
	}
	if r.GroupID != nil {
		set = set.Add(ConditionGroup)
	}
	if r.CategoryFilterType != "" {
		set = set.Add(ConditionCategory)
	}
	if r.IsAIRule() {
		set = set.Add(ConditionAI)
	}
	return set
}

// Sender is a known sender address of a user, optionally assigned a category.
type Sender struct {
	Email        string    `json:"email"`
	UserID       uuid.UUID `json:"user_id"`
	CategoryID   *int64    `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
}

// UserAIFields is the user context given to the oracle.
type UserAIFields struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	About string    `json:"about,omitempty"`
}
