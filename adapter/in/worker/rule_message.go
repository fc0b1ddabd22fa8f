package worker

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	// JobRulesRun runs a user's rules on one message.
	JobRulesRun JobType = "rules.run"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`

	// Ack settles the job at its source. The pool calls it once the job
	// succeeds or fails permanently; otherwise the source redelivers it.
	Ack func() `json:"-"`
}

func (m *Message) settle() {
	if m.Ack != nil {
		m.Ack()
	}
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// RunRulesPayload is the payload of a rules.run job.
type RunRulesPayload struct {
	UserID    string    `json:"user_id"` // parsed with uuid.Parse
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
	// RequestID is the id of the HTTP request that queued the job.
	RequestID string `json:"request_id,omitempty"`
}
