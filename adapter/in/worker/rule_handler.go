package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"rule_server/core/domain"
	"rule_server/core/port/in"
	"rule_server/pkg/apperr"
	"rule_server/pkg/logger"
	"rule_server/pkg/metrics"
)

// Handler dispatches queued jobs by type.
type Handler struct {
	rules in.RuleService
	log   *logger.Logger
}

func NewHandler(rules in.RuleService) *Handler {
	return &Handler{
		rules: rules,
		log:   logger.WithField("component", "worker_handler"),
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	h.log.Debug("processing message: %s", msg.Type)

	switch msg.Type {
	case JobRulesRun:
		return h.processRunRules(ctx, msg)
	default:
		h.log.Warn("unknown job type: %s", msg.Type)
		return nil
	}
}

func (h *Handler) processRunRules(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[RunRulesPayload](msg)
	if err != nil {
		metrics.BulkJobsProcessed.WithLabelValues("invalid").Inc()
		return Permanent(fmt.Errorf("failed to parse payload: %w", err))
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		metrics.BulkJobsProcessed.WithLabelValues("invalid").Inc()
		return Permanent(apperr.InvalidInput("user_id", "must be a UUID"))
	}

	if payload.RequestID != "" {
		ctx = logger.ContextWithRequestID(ctx, payload.RequestID)
	}
	ctx = logger.ContextWithUserID(ctx, userID.String())

	log := h.log.WithContext(ctx).WithFields(map[string]any{
		"job":        JobRulesRun,
		"message_id": payload.MessageID,
	})

	result, err := h.rules.RunOnMessageID(ctx, userID, payload.MessageID)
	if err != nil {
		metrics.BulkJobsProcessed.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("rule run failed")
		if status := apperr.GetHTTPStatus(err); status >= 400 && status < 500 {
			return Permanent(err)
		}
		return err
	}

	status := string(domain.ExecutedRuleNoMatch)
	if result.Executed != nil {
		status = string(result.Executed.Status)
	}
	metrics.BulkJobsProcessed.WithLabelValues(status).Inc()

	if result.Match.Matched() {
		log.Info("rule %q applied (%s)", result.Match.Rule.Name, result.Match.Reason())
	}
	return nil
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// permanentError marks a job failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the pool does not retry the job.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
