package rules

import (
	"context"
	"fmt"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/out"
	"rule_server/pkg/logger"
	"rule_server/pkg/metrics"
)

// =============================================================================
// Matching Orchestrator
// =============================================================================

// Matcher selects the single rule that governs a message. Phase one scans the
// rules in the given order and stops at the first definitive match; phase two
// asks the oracle to pick among the AI rules left unresolved.
type Matcher struct {
	groupRepo  out.GroupRepository
	senderRepo out.SenderRepository
	oracle     out.RuleChooser
	log        *logger.Logger
}

// NewMatcher creates a matcher. A nil oracle makes unresolved AI rules never match.
func NewMatcher(groupRepo out.GroupRepository, senderRepo out.SenderRepository, oracle out.RuleChooser) *Matcher {
	return &Matcher{
		groupRepo:  groupRepo,
		senderRepo: senderRepo,
		oracle:     oracle,
		log:        logger.WithField("component", "rule_matcher"),
	}
}

// scanResult is the outcome of phase one: a definitive match or the candidates for the oracle.
type scanResult struct {
	match     *domain.MatchResult
	potential []domain.PotentialMatch
}

// FindMatchingRule returns the winning rule and why, or an empty result.
// Rules are evaluated in slice order and are not re-sorted.
func (m *Matcher) FindMatchingRule(ctx context.Context, rules []*domain.Rule, msg *domain.ParsedMessage, user *domain.UserAIFields) (*domain.MatchResult, error) {
	start := time.Now()

	scan, err := m.findPotentialMatchingRules(ctx, rules, msg, msg.IsReplyInThread())
	if err != nil {
		return nil, err
	}

	result := scan.match
	if result == nil && len(scan.potential) > 0 {
		result, err = m.chooseWithOracle(ctx, msg, scan.potential, user)
		if err != nil {
			return nil, err
		}
	}
	if result == nil {
		result = &domain.MatchResult{}
	}

	metrics.ObserveMatch(matchSource(result), time.Since(start))
	return result, nil
}

func (m *Matcher) findPotentialMatchingRules(ctx context.Context, rules []*domain.Rule, msg *domain.ParsedMessage, isThread bool) (*scanResult, error) {
	pass := newEvaluationPass(m.groupRepo, m.senderRepo, msg)
	scan := &scanResult{}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		verdict, err := evaluateRule(ctx, pass, rule, msg, isThread)
		if err != nil {
			return nil, fmt.Errorf("evaluate rule %d: %w", rule.ID, err)
		}

		switch verdict.state {
		case ruleMatched:
			scan.match = &domain.MatchResult{Rule: rule, Reasons: verdict.reasons}
			return scan, nil
		case ruleDeferred:
			scan.potential = append(scan.potential, domain.PotentialMatch{
				Rule:         rule,
				Instructions: rule.Instructions,
				Reasons:      verdict.reasons,
			})
		}
	}

	return scan, nil
}

func (m *Matcher) chooseWithOracle(ctx context.Context, msg *domain.ParsedMessage, potential []domain.PotentialMatch, user *domain.UserAIFields) (*domain.MatchResult, error) {
	if m.oracle == nil {
		m.log.Warn("no oracle configured, %d AI rules left unresolved", len(potential))
		return &domain.MatchResult{}, nil
	}

	choice, err := m.oracle.ChooseRule(ctx, &out.ChooseRuleInput{
		Message:    msg,
		Candidates: potential,
		User:       user,
	})
	if err != nil {
		return nil, fmt.Errorf("choose rule: %w", err)
	}
	if choice == nil || choice.RuleID == 0 {
		return &domain.MatchResult{}, nil
	}

	for _, candidate := range potential {
		if candidate.Rule.ID == choice.RuleID {
			m.log.WithField("rule_id", choice.RuleID).Debug("oracle selected rule %q", candidate.Rule.Name)
			reasons := make(domain.MatchReasons, 0, len(candidate.Reasons)+1)
			reasons = append(reasons, candidate.Reasons...)
			reasons = append(reasons, domain.MatchReason{Type: domain.ConditionAI, Detail: choice.Reason})
			return &domain.MatchResult{Rule: candidate.Rule, Reasons: reasons}, nil
		}
	}

	m.log.WithField("rule_id", choice.RuleID).Warn("oracle selected a rule that was not a candidate")
	return &domain.MatchResult{}, nil
}

func matchSource(result *domain.MatchResult) string {
	decided, ok := result.DecidedBy()
	if !ok {
		return metrics.SourceNone
	}
	switch decided {
	case domain.ConditionStatic:
		return metrics.SourceStatic
	case domain.ConditionGroup:
		return metrics.SourceGroup
	case domain.ConditionCategory:
		return metrics.SourceCategory
	case domain.ConditionAI:
		return metrics.SourceAI
	}
	return metrics.SourceNone
}
