package http

import (
	"github.com/gofiber/fiber/v2"

	"rule_server/core/domain"
	"rule_server/core/port/in"
	"rule_server/pkg/apperr"
	"rule_server/pkg/response"
)

// RulesHandler serves rule testing, execution and history.
type RulesHandler struct {
	rules in.RuleService
}

func NewRulesHandler(rules in.RuleService) *RulesHandler {
	return &RulesHandler{rules: rules}
}

// Register mounts routes under router; ParseUserID must run first.
func (h *RulesHandler) Register(router fiber.Router) {
	rules := router.Group("/rules")

	rules.Post("/test", h.Test)
	rules.Post("/run", h.Run)
	rules.Post("/bulk", h.Bulk)
	rules.Get("/history", h.History)
}

// MatchView is the API shape of a match result. A miss renders as {}.
type MatchView struct {
	Matched   bool                `json:"matched,omitempty"`
	RuleID    *int64              `json:"rule_id,omitempty"`
	RuleName  string              `json:"rule_name,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	DecidedBy string              `json:"decided_by,omitempty"`
	Reasons   domain.MatchReasons `json:"reasons,omitempty"`
}

func newMatchView(m *domain.MatchResult) *MatchView {
	if !m.Matched() {
		return &MatchView{}
	}
	id := m.Rule.ID
	view := &MatchView{
		Matched:  true,
		RuleID:   &id,
		RuleName: m.Rule.Name,
		Reason:   m.Reason(),
		Reasons:  m.Reasons,
	}
	if t, ok := m.DecidedBy(); ok {
		view.DecidedBy = t.String()
	}
	return view
}

// Test dry-runs the user's rules against a message in the body.
// POST /api/v1/users/:userID/rules/test
func (h *RulesHandler) Test(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	msg, err := parseBody[domain.ParsedMessage](c)
	if err != nil {
		return err
	}

	match, err := h.rules.TestMessage(c.UserContext(), userID, msg)
	if err != nil {
		return err
	}
	return response.OK(c, newMatchView(match))
}

// RunRequest runs rules on a provider message, or on an inline message.
type RunRequest struct {
	MessageID string                `json:"message_id"`
	Message   *domain.ParsedMessage `json:"message,omitempty"`
	Test      bool                  `json:"test"`
}

type runView struct {
	Match    *MatchView           `json:"match"`
	Executed *domain.ExecutedRule `json:"executed,omitempty"`
}

// Run applies the matching rule to one message.
// POST /api/v1/users/:userID/rules/run
func (h *RulesHandler) Run(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := parseBody[RunRequest](c)
	if err != nil {
		return err
	}

	var result *in.RunResult
	switch {
	case req.Message != nil:
		result, err = h.rules.RunOnMessage(c.UserContext(), userID, req.Message, in.RunOptions{Test: req.Test})
	case req.MessageID != "":
		result, err = h.rules.RunOnMessageID(c.UserContext(), userID, req.MessageID)
	default:
		return apperr.MissingField("message_id")
	}
	if err != nil {
		return err
	}

	return response.OK(c, &runView{
		Match:    newMatchView(result.Match),
		Executed: result.Executed,
	})
}

// Bulk queues a rule run for every unprocessed inbox message in a date window.
// POST /api/v1/users/:userID/rules/bulk
func (h *RulesHandler) Bulk(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := parseBody[in.BulkRunRequest](c)
	if err != nil {
		return err
	}

	result, err := h.rules.EnqueueBulk(c.UserContext(), userID, req)
	if err != nil {
		return err
	}
	return response.Accepted(c, result)
}

// History lists the user's most recent rule executions.
// GET /api/v1/users/:userID/rules/history?limit=50
func (h *RulesHandler) History(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", 0)
	items, err := h.rules.History(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}

	return response.OKWithMeta(c, items, &response.Meta{Total: len(items), Limit: limit})
}
