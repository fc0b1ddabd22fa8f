package rules

import (
	"fmt"
	"strings"
	"unicode"

	"rule_server/core/domain"
)

// findRuleGroup locates the group owned by rule, falling back to the group
// the rule references by id.
func findRuleGroup(groups []*domain.GroupWithRule, rule *domain.Rule) *domain.GroupWithRule {
	for _, g := range groups {
		if g.RuleID != nil && *g.RuleID == rule.ID {
			return g
		}
	}
	if rule.GroupID == nil {
		return nil
	}
	for _, g := range groups {
		if g.ID == *rule.GroupID {
			return g
		}
	}
	return nil
}

// FindMatchingGroupItem returns the first item of group, in insertion order,
// that msg matches.
func FindMatchingGroupItem(msg *domain.ParsedMessage, group *domain.Group) *domain.GroupItem {
	if group == nil {
		return nil
	}
	for i := range group.Items {
		if matchesGroupItem(&group.Items[i], msg) {
			return &group.Items[i]
		}
	}
	return nil
}

func matchesGroupItem(item *domain.GroupItem, msg *domain.ParsedMessage) bool {
	if item.Value == "" {
		return false
	}

	switch item.Type {
	case domain.GroupItemFrom:
		from := msg.Headers.From
		if from == "" {
			return false
		}
		return strings.Contains(item.Value, from) || strings.Contains(from, item.Value)

	case domain.GroupItemSubject:
		subject := msg.Headers.Subject
		if subject == "" {
			return false
		}
		if strings.Contains(subject, item.Value) {
			return true
		}
		// "Invoice #123" should still match "Invoice #456"
		value := stripDigits(item.Value)
		return value != "" && strings.Contains(stripDigits(subject), value)

	case domain.GroupItemBody:
		return msg.TextPlain != "" && strings.Contains(msg.TextPlain, item.Value)
	}

	return false
}

func stripDigits(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func groupReason(item *domain.GroupItem) domain.MatchReason {
	return domain.MatchReason{
		Type:      domain.ConditionGroup,
		Detail:    fmt.Sprintf("%s: %s", item.Type, item.Value),
		GroupItem: item,
	}
}
