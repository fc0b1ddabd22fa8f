package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GroupItemType is the message field a group item is compared with.
type GroupItemType string

const (
	GroupItemFrom    GroupItemType = "from"
	GroupItemSubject GroupItemType = "subject"
	GroupItemBody    GroupItemType = "body"
)

// ParseGroupItemType accepts the stored forms of an item type in any case.
func ParseGroupItemType(s string) GroupItemType {
	return GroupItemType(strings.ToLower(strings.TrimSpace(s)))
}

// GroupItem is one entry of a group, e.g. "from contains newsletter@acme.com".
type GroupItem struct {
	ID        int64         `json:"id"`
	GroupID   int64         `json:"group_id"`
	Type      GroupItemType `json:"type"`
	Value     string        `json:"value"`
	CreatedAt time.Time     `json:"created_at"`
}

// Group is a curated list of items usable as a single rule condition.
// Items are kept in insertion order.
type Group struct {
	ID     int64       `json:"id"`
	UserID uuid.UUID   `json:"user_id"`
	Name   string      `json:"name"`
	Items  []GroupItem `json:"items"`
}

// GroupWithRule is a group joined with the rule that references it.
type GroupWithRule struct {
	Group
	RuleID   *int64 `json:"rule_id,omitempty"`
	RuleName string `json:"rule_name,omitempty"`
}
