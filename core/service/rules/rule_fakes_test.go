package rules

import (
	"context"

	"rule_server/core/domain"
	"rule_server/core/port/out"

	"github.com/google/uuid"
)

type fakeGroupRepo struct {
	groups []*domain.GroupWithRule
	err    error
	calls  int
}

func (f *fakeGroupRepo) ListGroupsWithRules(ctx context.Context, userID uuid.UUID) ([]*domain.GroupWithRule, error) {
	f.calls++
	return f.groups, f.err
}

type fakeSenderRepo struct {
	senders map[string]*domain.Sender
	err     error
	calls   int
	emails  []string
}

func (f *fakeSenderRepo) GetSender(ctx context.Context, userID uuid.UUID, email string) (*domain.Sender, error) {
	f.calls++
	f.emails = append(f.emails, email)
	if f.err != nil {
		return nil, f.err
	}
	return f.senders[email], nil
}

type fakeOracle struct {
	choice *out.ChooseRuleOutput
	err    error
	calls  int
	input  *out.ChooseRuleInput
}

func (f *fakeOracle) ChooseRule(ctx context.Context, input *out.ChooseRuleInput) (*out.ChooseRuleOutput, error) {
	f.calls++
	f.input = input
	return f.choice, f.err
}

var testUserID = uuid.MustParse("6f1d9a8e-3b7c-4a52-9e0f-2d4c8b1a7e63")

func int64Ptr(v int64) *int64 { return &v }

func newRule(id int64, mutate func(r *domain.Rule)) *domain.Rule {
	r := &domain.Rule{
		ID:                  id,
		UserID:              testUserID,
		Name:                "rule",
		Enabled:             true,
		RunOnThreads:        true,
		ConditionalOperator: domain.LogicalOperatorAnd,
	}
	if mutate != nil {
		mutate(r)
	}
	return r
}

func newMessage(from, subject, body string) *domain.ParsedMessage {
	return &domain.ParsedMessage{
		ID:       "m1",
		ThreadID: "m1",
		Headers: domain.MessageHeaders{
			From:    from,
			To:      "me@example.com",
			Subject: subject,
		},
		TextPlain: body,
	}
}
