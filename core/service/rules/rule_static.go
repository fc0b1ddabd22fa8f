// Package rules implements rule matching: the static, group and category
// evaluators, the per-rule state machine and the two-phase matching orchestrator.
package rules

import (
	"regexp"

	"rule_server/core/domain"
	"rule_server/pkg/logger"
	"rule_server/pkg/metrics"
)

// MatchesStaticRule reports whether msg satisfies every populated static
// pattern of rule. A rule without static patterns returns false; callers check
// HasStaticConditions before relying on the result.
func MatchesStaticRule(rule *domain.Rule, msg *domain.ParsedMessage) bool {
	if !rule.HasStaticConditions() {
		return false
	}

	fromMatch := rule.From == "" || safeRegexTest(rule, "from", rule.From, msg.Headers.From)
	toMatch := rule.To == "" || safeRegexTest(rule, "to", rule.To, msg.Headers.To)
	subjectMatch := rule.Subject == "" || safeRegexTest(rule, "subject", rule.Subject, msg.Headers.Subject)
	bodyMatch := rule.Body == "" || safeRegexTest(rule, "body", rule.Body, msg.TextPlain)

	return fromMatch && toMatch && subjectMatch && bodyMatch
}

// safeRegexTest treats an uncompilable pattern as a non-match for its field.
func safeRegexTest(rule *domain.Rule, field, pattern, text string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		metrics.InvalidPatternsTotal.Inc()
		logger.WithFields(map[string]any{
			"rule_id": rule.ID,
			"field":   field,
			"pattern": pattern,
		}).WithError(err).Error("invalid regex pattern")
		return false
	}
	return re.MatchString(text)
}
