package mongodb

import (
	"context"
	"fmt"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Executed Rule Adapter
// =============================================================================

const collectionExecutedRules = "executed_rules"

// ExecutedRuleAdapter implements out.ExecutedRuleRepository using MongoDB.
type ExecutedRuleAdapter struct {
	collection *mongo.Collection
}

// NewExecutedRuleAdapter creates a new MongoDB executed-rule adapter.
func NewExecutedRuleAdapter(db *mongo.Database) *ExecutedRuleAdapter {
	return &ExecutedRuleAdapter{collection: db.Collection(collectionExecutedRules)}
}

var _ out.ExecutedRuleRepository = (*ExecutedRuleAdapter)(nil)

// EnsureIndexes creates necessary indexes for the collection.
func (a *ExecutedRuleAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "message_id", Value: 1},
			},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// executedRuleDocument represents the MongoDB document structure.
type executedRuleDocument struct {
	ID        string    `bson:"id"`
	UserID    string    `bson:"user_id"`
	MessageID string    `bson:"message_id"`
	ThreadID  string    `bson:"thread_id"`
	RuleID    *int64    `bson:"rule_id,omitempty"`
	RuleName  string    `bson:"rule_name,omitempty"`
	Reason    string    `bson:"reason,omitempty"`
	Actions   []string  `bson:"actions,omitempty"`
	Status    string    `bson:"status"`
	Error     string    `bson:"error,omitempty"`
	Automated bool      `bson:"automated"`
	CreatedAt time.Time `bson:"created_at"`
}

func toExecutedRuleDocument(e *domain.ExecutedRule) *executedRuleDocument {
	actions := make([]string, len(e.Actions))
	for i, a := range e.Actions {
		actions[i] = string(a)
	}
	return &executedRuleDocument{
		ID:        e.ID.String(),
		UserID:    e.UserID.String(),
		MessageID: e.MessageID,
		ThreadID:  e.ThreadID,
		RuleID:    e.RuleID,
		RuleName:  e.RuleName,
		Reason:    e.Reason,
		Actions:   actions,
		Status:    string(e.Status),
		Error:     e.Error,
		Automated: e.Automated,
		CreatedAt: e.CreatedAt,
	}
}

func (d *executedRuleDocument) toEntity() *domain.ExecutedRule {
	actions := make([]domain.ActionType, len(d.Actions))
	for i, a := range d.Actions {
		actions[i] = domain.ActionType(a)
	}
	id, _ := uuid.Parse(d.ID)
	userID, _ := uuid.Parse(d.UserID)
	return &domain.ExecutedRule{
		ID:        id,
		UserID:    userID,
		MessageID: d.MessageID,
		ThreadID:  d.ThreadID,
		RuleID:    d.RuleID,
		RuleName:  d.RuleName,
		Reason:    d.Reason,
		Actions:   actions,
		Status:    domain.ExecutedRuleStatus(d.Status),
		Error:     d.Error,
		Automated: d.Automated,
		CreatedAt: d.CreatedAt,
	}
}

// Save upserts an executed rule by id.
func (a *ExecutedRuleAdapter) Save(ctx context.Context, executed *domain.ExecutedRule) error {
	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"id": executed.ID.String()}

	if _, err := a.collection.ReplaceOne(ctx, filter, toExecutedRuleDocument(executed), opts); err != nil {
		return fmt.Errorf("failed to save executed rule: %w", err)
	}
	return nil
}

// ListByUser returns the user's newest executed rules first.
func (a *ExecutedRuleAdapter) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExecutedRule, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list executed rules: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []executedRuleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode executed rules: %w", err)
	}

	items := make([]*domain.ExecutedRule, len(docs))
	for i := range docs {
		items[i] = docs[i].toEntity()
	}
	return items, nil
}
