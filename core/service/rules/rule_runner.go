package rules

import (
	"context"
	"strings"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/in"
	"rule_server/core/port/out"
	"rule_server/pkg/apperr"
	"rule_server/pkg/logger"
	"rule_server/pkg/metrics"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	providerGoogle = "google"

	defaultBulkPageSize = 25
	// maxBulkPages bounds one bulk run to a few thousand messages.
	maxBulkPages = 100
)

// RunnerConfig tunes the runner.
type RunnerConfig struct {
	BulkPageSize int
}

// Runner loads a user's rules, matches messages against them and applies the
// winning rule's actions through the mail provider.
type Runner struct {
	ruleRepo  out.RuleRepository
	userRepo  out.UserRepository
	oauthRepo out.OAuthRepository
	history   out.ExecutedRuleRepository
	processed out.ProcessedStore
	provider  out.MailProvider
	queue     out.JobQueue
	matcher   in.RuleMatcher
	cfg       RunnerConfig
	log       *logger.Logger
}

// RunnerDeps groups the collaborators of a Runner.
type RunnerDeps struct {
	RuleRepo  out.RuleRepository
	UserRepo  out.UserRepository
	OAuthRepo out.OAuthRepository
	History   out.ExecutedRuleRepository
	Processed out.ProcessedStore
	Provider  out.MailProvider
	Queue     out.JobQueue
	Matcher   in.RuleMatcher
	// Logger defaults to the service logger.
	Logger *logger.Logger
}

// NewRunner creates a new rule runner.
func NewRunner(deps RunnerDeps, cfg RunnerConfig) *Runner {
	if cfg.BulkPageSize <= 0 {
		cfg.BulkPageSize = defaultBulkPageSize
	}
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Runner{
		ruleRepo:  deps.RuleRepo,
		userRepo:  deps.UserRepo,
		oauthRepo: deps.OAuthRepo,
		history:   deps.History,
		processed: deps.Processed,
		provider:  deps.Provider,
		queue:     deps.Queue,
		matcher:   deps.Matcher,
		cfg:       cfg,
		log:       log.WithField("component", "rule_runner"),
	}
}

var _ in.RuleService = (*Runner)(nil)

// TestMessage matches msg without touching the mailbox or the history.
func (r *Runner) TestMessage(ctx context.Context, userID uuid.UUID, msg *domain.ParsedMessage) (*domain.MatchResult, error) {
	res, err := r.RunOnMessage(ctx, userID, msg, in.RunOptions{Test: true})
	if err != nil {
		return nil, err
	}
	return res.Match, nil
}

// RunOnMessage matches msg and, unless opts.Test, applies the matched rule,
// records the run and marks the message processed.
func (r *Runner) RunOnMessage(ctx context.Context, userID uuid.UUID, msg *domain.ParsedMessage, opts in.RunOptions) (*in.RunResult, error) {
	if msg == nil || msg.ID == "" {
		return nil, apperr.MissingField("message.id")
	}

	user, err := r.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	rules, err := r.ruleRepo.ListEnabledByUser(ctx, userID)
	if err != nil {
		return nil, apperr.DatabaseError("list rules", err)
	}

	match, err := r.matcher.FindMatchingRule(ctx, rules, msg, user)
	if err != nil {
		return nil, err
	}

	result := &in.RunResult{Match: match}
	if opts.Test {
		return result, nil
	}

	executed := &domain.ExecutedRule{
		ID:        uuid.New(),
		UserID:    userID,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Status:    domain.ExecutedRuleNoMatch,
		Automated: true,
		CreatedAt: time.Now().UTC(),
	}

	if match.Matched() {
		executed.RuleID = &match.Rule.ID
		executed.RuleName = match.Rule.Name
		executed.Reason = match.Reason()
		executed.Status = domain.ExecutedRuleApplied

		applied, err := r.applyActions(ctx, userID, msg.ID, match.Rule.Actions)
		executed.Actions = applied
		if err != nil {
			executed.Status = domain.ExecutedRuleError
			executed.Error = err.Error()
			r.log.WithContext(ctx).WithError(err).
				WithFields(map[string]any{"rule_id": match.Rule.ID, "message_id": msg.ID}).
				Error("failed to apply rule actions")
		}
	}

	if err := r.history.Save(ctx, executed); err != nil {
		return nil, apperr.ExternalError("mongodb", err).WithDetail("operation", "save executed rule")
	}
	if executed.Status != domain.ExecutedRuleError {
		if err := r.processed.MarkProcessed(ctx, userID, msg.ID); err != nil {
			r.log.WithContext(ctx).WithError(err).Warn("failed to mark message %s processed", msg.ID)
		}
	}

	result.Executed = executed
	return result, nil
}

// RunOnMessageID fetches the message from the provider and runs rules on it.
func (r *Runner) RunOnMessageID(ctx context.Context, userID uuid.UUID, messageID string) (*in.RunResult, error) {
	if messageID == "" {
		return nil, apperr.MissingField("message_id")
	}

	token, err := r.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg, err := r.provider.GetMessage(ctx, token, messageID)
	if err != nil {
		return nil, err
	}

	return r.RunOnMessage(ctx, userID, msg, in.RunOptions{})
}

// EnqueueBulk lists inbox messages in the window page by page and queues a
// run for each one not sent by the user and not yet processed.
func (r *Runner) EnqueueBulk(ctx context.Context, userID uuid.UUID, req *in.BulkRunRequest) (*in.BulkRunResult, error) {
	if req == nil || req.StartDate.IsZero() {
		return nil, apperr.MissingField("start_date")
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return nil, apperr.InvalidInput("end_date", "must be after start_date")
	}

	user, err := r.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	token, err := r.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := &out.MessageListQuery{
		After:    &req.StartDate,
		Before:   req.EndDate,
		PageSize: r.cfg.BulkPageSize,
	}
	result := &in.BulkRunResult{}

	for page := 0; page < maxBulkPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		listed, err := r.provider.ListMessages(ctx, token, query)
		if err != nil {
			return result, err
		}

		for _, ref := range listed.Messages {
			result.Listed++

			// -from:me would also drop threads the user replied to
			if user.Email != "" && strings.Contains(ref.From, user.Email) {
				result.Skipped++
				continue
			}

			done, err := r.processed.IsProcessed(ctx, userID, ref.ID)
			if err != nil {
				return result, apperr.ExternalError("redis", err).WithDetail("operation", "check processed")
			}
			if done {
				result.Skipped++
				continue
			}

			job := &out.RunRulesJob{
				UserID:    userID,
				MessageID: ref.ID,
				ThreadID:  ref.ThreadID,
				QueuedAt:  time.Now().UTC(),
			}
			if err := r.queue.PublishRunRules(ctx, job); err != nil {
				return result, apperr.ExternalError("redis", err).WithDetail("operation", "publish run rules")
			}
			result.Enqueued++
			metrics.BulkJobsEnqueued.Inc()
		}

		if listed.NextPageToken == "" {
			break
		}
		query.PageToken = listed.NextPageToken
	}

	r.log.WithContext(ctx).WithFields(map[string]any{
		"listed":   result.Listed,
		"skipped":  result.Skipped,
		"enqueued": result.Enqueued,
	}).Info("bulk rule run queued")

	return result, nil
}

// History returns the user's most recent rule runs.
func (r *Runner) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExecutedRule, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := r.history.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperr.ExternalError("mongodb", err).WithDetail("operation", "list executed rules")
	}
	return items, nil
}

// applyActions folds the rule's actions into a single label change.
// It returns the actions that were sent to the provider.
func (r *Runner) applyActions(ctx context.Context, userID uuid.UUID, messageID string, actions []domain.Action) ([]domain.ActionType, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	token, err := r.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	var add, remove []string
	applied := make([]domain.ActionType, 0, len(actions))

	for _, action := range actions {
		switch action.Type {
		case domain.ActionLabel:
			if action.Label == "" {
				continue
			}
			labelID, err := r.provider.EnsureLabel(ctx, token, action.Label)
			if err != nil {
				return applied, err
			}
			add = append(add, labelID)
		case domain.ActionArchive:
			remove = append(remove, out.LabelInbox)
		case domain.ActionMarkRead:
			remove = append(remove, out.LabelUnread)
		case domain.ActionMarkImportant:
			add = append(add, out.LabelImportant)
		default:
			r.log.Warn("unsupported action type %q", action.Type)
			continue
		}
		applied = append(applied, action.Type)
	}

	if len(add) == 0 && len(remove) == 0 {
		return applied, nil
	}
	if err := r.provider.ModifyLabels(ctx, token, messageID, add, remove); err != nil {
		return nil, err
	}
	return applied, nil
}

func (r *Runner) loadUser(ctx context.Context, userID uuid.UUID) (*domain.UserAIFields, error) {
	user, err := r.userRepo.GetAIFields(ctx, userID)
	if err != nil {
		return nil, apperr.DatabaseError("get user", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user")
	}
	return user, nil
}

func (r *Runner) token(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	conn, err := r.oauthRepo.GetByUser(ctx, userID, providerGoogle)
	if err != nil {
		return nil, apperr.DatabaseError("get oauth connection", err)
	}
	if conn == nil || !conn.IsConnected {
		return nil, apperr.NotFound("mail connection")
	}
	return &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       conn.ExpiresAt,
	}, nil
}
