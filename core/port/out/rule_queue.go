package out

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProcessedStore remembers which messages rules already ran on.
type ProcessedStore interface {
	IsProcessed(ctx context.Context, userID uuid.UUID, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, userID uuid.UUID, messageID string) error
}

// JobQueue publishes background rule runs.
type JobQueue interface {
	PublishRunRules(ctx context.Context, job *RunRulesJob) error
}

// RunRulesJob asks a worker to run the user's rules on one message.
type RunRulesJob struct {
	UserID    uuid.UUID `json:"user_id"`
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
}
