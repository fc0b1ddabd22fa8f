package rules

import (
	"context"
	"fmt"

	"rule_server/core/domain"
	"rule_server/core/port/out"
	"rule_server/pkg/metrics"

	"github.com/google/uuid"
)

// evaluationPass holds the lookups of one message's evaluation. Map presence
// marks a completed fetch, so each store is hit at most once per user.
// A pass is used by a single goroutine and discarded afterwards.
type evaluationPass struct {
	groupRepo  out.GroupRepository
	senderRepo out.SenderRepository

	senderEmail string

	groups  map[uuid.UUID][]*domain.GroupWithRule
	senders map[uuid.UUID]*domain.Sender
}

func newEvaluationPass(groupRepo out.GroupRepository, senderRepo out.SenderRepository, msg *domain.ParsedMessage) *evaluationPass {
	return &evaluationPass{
		groupRepo:   groupRepo,
		senderRepo:  senderRepo,
		senderEmail: msg.SenderAddress(),
		groups:      make(map[uuid.UUID][]*domain.GroupWithRule),
		senders:     make(map[uuid.UUID]*domain.Sender),
	}
}

// Groups returns the user's groups, fetching them on first use.
func (p *evaluationPass) Groups(ctx context.Context, userID uuid.UUID) ([]*domain.GroupWithRule, error) {
	if groups, ok := p.groups[userID]; ok {
		return groups, nil
	}
	if p.groupRepo == nil {
		return nil, fmt.Errorf("group repository not configured")
	}

	metrics.StoreLookupsTotal.WithLabelValues("groups").Inc()
	groups, err := p.groupRepo.ListGroupsWithRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	p.groups[userID] = groups
	return groups, nil
}

// Sender returns the message sender's record for the user, nil when unknown.
func (p *evaluationPass) Sender(ctx context.Context, userID uuid.UUID) (*domain.Sender, error) {
	if sender, ok := p.senders[userID]; ok {
		return sender, nil
	}
	if p.senderRepo == nil {
		return nil, fmt.Errorf("sender repository not configured")
	}

	metrics.StoreLookupsTotal.WithLabelValues("sender").Inc()
	sender, err := p.senderRepo.GetSender(ctx, userID, p.senderEmail)
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	p.senders[userID] = sender
	return sender, nil
}
