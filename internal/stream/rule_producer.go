package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rule_server/adapter/in/worker"
	"rule_server/core/port/out"
	"rule_server/pkg/logger"
)

var _ out.JobQueue = (*Producer)(nil)

type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// PublishRunRules queues one rules.run job.
func (p *Producer) PublishRunRules(ctx context.Context, job *out.RunRulesJob) error {
	queuedAt := job.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now().UTC()
	}

	payload := map[string]any{
		"user_id":    job.UserID.String(),
		"message_id": job.MessageID,
		"thread_id":  job.ThreadID,
		"queued_at":  queuedAt,
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	_, err := p.stream.Publish(ctx, StreamRulesRun, &Job{
		ID:        uuid.New().String(),
		Type:      worker.JobRulesRun,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	return err
}
