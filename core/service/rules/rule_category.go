package rules

import "rule_server/core/domain"

// MatchesCategoryRule checks the sender's category against rule's filter.
// The returned category is the filter entry that matched, nil when the
// condition holds without naming one (no filter, or EXCLUDE).
func MatchesCategoryRule(rule *domain.Rule, sender *domain.Sender) (bool, *domain.Category) {
	if rule.CategoryFilterType == "" || len(rule.CategoryFilters) == 0 {
		return true, nil
	}
	if sender == nil {
		return false, nil
	}

	var matched *domain.Category
	if sender.CategoryID != nil {
		for i := range rule.CategoryFilters {
			if rule.CategoryFilters[i].ID == *sender.CategoryID {
				matched = &rule.CategoryFilters[i]
				break
			}
		}
	}

	switch rule.CategoryFilterType {
	case domain.CategoryFilterInclude:
		return matched != nil, matched
	case domain.CategoryFilterExclude:
		return matched == nil, nil
	default:
		return false, nil
	}
}

func categoryReason(category *domain.Category) domain.MatchReason {
	reason := domain.MatchReason{Type: domain.ConditionCategory, Category: category}
	if category != nil {
		reason.Detail = category.Name
	}
	return reason
}
