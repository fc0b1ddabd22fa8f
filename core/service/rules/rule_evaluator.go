package rules

import (
	"context"

	"rule_server/core/domain"
)

// ruleState is where the per-rule state machine stopped.
type ruleState int

const (
	// ruleInert: nothing matched and nothing is left for the oracle.
	ruleInert ruleState = iota
	ruleSkipped
	ruleEliminated
	ruleMatched
	ruleDeferred
)

func (s ruleState) String() string {
	switch s {
	case ruleSkipped:
		return "skipped"
	case ruleEliminated:
		return "eliminated"
	case ruleMatched:
		return "matched"
	case ruleDeferred:
		return "deferred"
	default:
		return "inert"
	}
}

type ruleVerdict struct {
	state   ruleState
	reasons domain.MatchReasons
}

// deterministicOrder is the evaluation order of conditions decided without the oracle.
var deterministicOrder = []domain.ConditionType{
	domain.ConditionStatic,
	domain.ConditionGroup,
	domain.ConditionCategory,
}

// evaluateRule runs one rule against msg. Errors come only from store lookups.
func evaluateRule(ctx context.Context, pass *evaluationPass, rule *domain.Rule, msg *domain.ParsedMessage, isThread bool) (ruleVerdict, error) {
	if isThread && !rule.RunOnThreads {
		return ruleVerdict{state: ruleSkipped}, nil
	}

	conditions := rule.Conditions()
	unresolved := conditions
	operator := rule.Operator()
	var reasons domain.MatchReasons

	for _, condition := range deterministicOrder {
		if !conditions.Has(condition) {
			continue
		}

		reason, ok, err := evaluateCondition(ctx, pass, condition, rule, msg)
		if err != nil {
			return ruleVerdict{}, err
		}

		if !ok {
			if operator == domain.LogicalOperatorAnd {
				return ruleVerdict{state: ruleEliminated}, nil
			}
			continue
		}

		unresolved = unresolved.Remove(condition)
		reasons = append(reasons, reason)
		if operator == domain.LogicalOperatorOr || unresolved.Empty() {
			return ruleVerdict{state: ruleMatched, reasons: reasons}, nil
		}
	}

	if conditions.Has(domain.ConditionAI) {
		return ruleVerdict{state: ruleDeferred, reasons: reasons}, nil
	}
	return ruleVerdict{state: ruleInert}, nil
}

func evaluateCondition(ctx context.Context, pass *evaluationPass, condition domain.ConditionType, rule *domain.Rule, msg *domain.ParsedMessage) (domain.MatchReason, bool, error) {
	switch condition {
	case domain.ConditionStatic:
		if MatchesStaticRule(rule, msg) {
			return domain.MatchReason{Type: domain.ConditionStatic}, true, nil
		}

	case domain.ConditionGroup:
		groups, err := pass.Groups(ctx, rule.UserID)
		if err != nil {
			return domain.MatchReason{}, false, err
		}
		group := findRuleGroup(groups, rule)
		if group == nil {
			return domain.MatchReason{}, false, nil
		}
		if item := FindMatchingGroupItem(msg, &group.Group); item != nil {
			return groupReason(item), true, nil
		}

	case domain.ConditionCategory:
		// Filters without entries hold regardless of the sender; skip the lookup.
		if len(rule.CategoryFilters) == 0 {
			return categoryReason(nil), true, nil
		}
		sender, err := pass.Sender(ctx, rule.UserID)
		if err != nil {
			return domain.MatchReason{}, false, err
		}
		if ok, category := MatchesCategoryRule(rule, sender); ok {
			return categoryReason(category), true, nil
		}
	}

	return domain.MatchReason{}, false, nil
}
