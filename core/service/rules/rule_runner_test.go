package rules

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/in"
	"rule_server/core/port/out"
	"rule_server/pkg/apperr"
	"rule_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeRuleRepo struct {
	rules []*domain.Rule
	err   error
}

func (f *fakeRuleRepo) ListEnabledByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Rule, error) {
	return f.rules, f.err
}

func (f *fakeRuleRepo) GetByID(ctx context.Context, userID uuid.UUID, ruleID int64) (*domain.Rule, error) {
	for _, r := range f.rules {
		if r.ID == ruleID {
			return r, nil
		}
	}
	return nil, nil
}

type fakeUserRepo struct {
	user *domain.UserAIFields
}

func (f *fakeUserRepo) GetAIFields(ctx context.Context, userID uuid.UUID) (*domain.UserAIFields, error) {
	return f.user, nil
}

type fakeOAuthRepo struct {
	conn *out.OAuthConnectionEntity
}

func (f *fakeOAuthRepo) GetByUser(ctx context.Context, userID uuid.UUID, provider string) (*out.OAuthConnectionEntity, error) {
	return f.conn, nil
}

type fakeHistory struct {
	saved []*domain.ExecutedRule
	err   error
}

func (f *fakeHistory) Save(ctx context.Context, executed *domain.ExecutedRule) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, executed)
	return nil
}

func (f *fakeHistory) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.ExecutedRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.saved) > limit {
		return f.saved[:limit], nil
	}
	return f.saved, nil
}

type fakeProcessed struct {
	done map[string]bool
	err  error
}

func (f *fakeProcessed) IsProcessed(ctx context.Context, userID uuid.UUID, messageID string) (bool, error) {
	return f.done[messageID], f.err
}

func (f *fakeProcessed) MarkProcessed(ctx context.Context, userID uuid.UUID, messageID string) error {
	if f.done == nil {
		f.done = make(map[string]bool)
	}
	f.done[messageID] = true
	return nil
}

type modifyCall struct {
	messageID   string
	add, remove []string
}

type fakeProvider struct {
	messages  map[string]*domain.ParsedMessage
	pages     []*out.MessagePage
	queries   []out.MessageListQuery
	modifies  []modifyCall
	labels    map[string]string
	modifyErr error
}

func (f *fakeProvider) GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*domain.ParsedMessage, error) {
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, apperr.NotFound("message")
	}
	return msg, nil
}

func (f *fakeProvider) ListMessages(ctx context.Context, token *oauth2.Token, query *out.MessageListQuery) (*out.MessagePage, error) {
	f.queries = append(f.queries, *query)
	page := f.pages[len(f.queries)-1]
	return page, nil
}

func (f *fakeProvider) ModifyLabels(ctx context.Context, token *oauth2.Token, messageID string, add, remove []string) error {
	f.modifies = append(f.modifies, modifyCall{messageID: messageID, add: add, remove: remove})
	return f.modifyErr
}

func (f *fakeProvider) EnsureLabel(ctx context.Context, token *oauth2.Token, name string) (string, error) {
	if f.labels == nil {
		f.labels = make(map[string]string)
	}
	id, ok := f.labels[name]
	if !ok {
		id = "Label_" + name
		f.labels[name] = id
	}
	return id, nil
}

type fakeQueue struct {
	jobs []*out.RunRulesJob
	err  error
}

func (f *fakeQueue) PublishRunRules(ctx context.Context, job *out.RunRulesJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type runnerFixture struct {
	runner    *Runner
	history   *fakeHistory
	processed *fakeProcessed
	provider  *fakeProvider
	queue     *fakeQueue
	logs      *bytes.Buffer
}

func newRunnerFixture(rules []*domain.Rule) *runnerFixture {
	f := &runnerFixture{
		history:   &fakeHistory{},
		processed: &fakeProcessed{},
		provider:  &fakeProvider{},
		queue:     &fakeQueue{},
		logs:      &bytes.Buffer{},
	}
	f.runner = NewRunner(RunnerDeps{
		RuleRepo:  &fakeRuleRepo{rules: rules},
		UserRepo:  &fakeUserRepo{user: testUser},
		OAuthRepo: &fakeOAuthRepo{conn: &out.OAuthConnectionEntity{ID: 1, AccessToken: "at", IsConnected: true}},
		History:   f.history,
		Processed: f.processed,
		Provider:  f.provider,
		Queue:     f.queue,
		Matcher:   NewMatcher(&fakeGroupRepo{}, &fakeSenderRepo{}, nil),
		Logger:    logger.New(logger.Config{Level: logger.LevelInfo, Output: f.logs}),
	}, RunnerConfig{BulkPageSize: 2})
	return f
}

func receiptRule() *domain.Rule {
	return newRule(7, func(r *domain.Rule) {
		r.Name = "Receipts"
		r.Subject = "(?i)receipt"
		r.Actions = []domain.Action{
			{Type: domain.ActionLabel, Label: "Receipts"},
			{Type: domain.ActionArchive},
			{Type: domain.ActionMarkRead},
		}
	})
}

func TestRunner_TestMessageHasNoSideEffects(t *testing.T) {
	f := newRunnerFixture([]*domain.Rule{receiptRule()})

	match, err := f.runner.TestMessage(context.Background(), testUserID, newMessage("shop@x.com", "Your receipt", ""))
	require.NoError(t, err)
	require.True(t, match.Matched())
	assert.Equal(t, int64(7), match.Rule.ID)
	assert.Empty(t, f.history.saved)
	assert.Empty(t, f.provider.modifies)
	assert.Empty(t, f.processed.done)
}

func TestRunner_RunOnMessageAppliesActions(t *testing.T) {
	f := newRunnerFixture([]*domain.Rule{receiptRule()})
	msg := newMessage("shop@x.com", "Your receipt", "")

	res, err := f.runner.RunOnMessage(context.Background(), testUserID, msg, in.RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Executed)

	assert.Equal(t, domain.ExecutedRuleApplied, res.Executed.Status)
	assert.Equal(t, "Matched static conditions", res.Executed.Reason)
	assert.Equal(t, []domain.ActionType{domain.ActionLabel, domain.ActionArchive, domain.ActionMarkRead}, res.Executed.Actions)

	require.Len(t, f.provider.modifies, 1)
	call := f.provider.modifies[0]
	assert.Equal(t, "m1", call.messageID)
	assert.Equal(t, []string{"Label_Receipts"}, call.add)
	assert.Equal(t, []string{out.LabelInbox, out.LabelUnread}, call.remove)

	require.Len(t, f.history.saved, 1)
	assert.True(t, f.processed.done["m1"])
}

func TestRunner_RunOnMessageNoMatchIsRecorded(t *testing.T) {
	f := newRunnerFixture([]*domain.Rule{receiptRule()})

	res, err := f.runner.RunOnMessage(context.Background(), testUserID, newMessage("a@x.com", "hello", ""), in.RunOptions{})
	require.NoError(t, err)
	assert.False(t, res.Match.Matched())
	assert.Equal(t, domain.ExecutedRuleNoMatch, res.Executed.Status)
	assert.Empty(t, f.provider.modifies)
	assert.True(t, f.processed.done["m1"])
}

func TestRunner_ProviderFailureIsRecorded(t *testing.T) {
	f := newRunnerFixture([]*domain.Rule{receiptRule()})
	f.provider.modifyErr = errors.New("gmail down")

	res, err := f.runner.RunOnMessage(context.Background(), testUserID, newMessage("shop@x.com", "receipt", ""), in.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutedRuleError, res.Executed.Status)
	assert.Equal(t, "gmail down", res.Executed.Error)
	assert.False(t, f.processed.done["m1"])
}

func TestRunner_RunOnMessageID(t *testing.T) {
	f := newRunnerFixture([]*domain.Rule{receiptRule()})
	f.provider.messages = map[string]*domain.ParsedMessage{"m1": newMessage("shop@x.com", "receipt", "")}

	res, err := f.runner.RunOnMessageID(context.Background(), testUserID, "m1")
	require.NoError(t, err)
	assert.True(t, res.Match.Matched())

	_, err = f.runner.RunOnMessageID(context.Background(), testUserID, "")
	assert.True(t, apperr.IsAppError(err))
}

func TestRunner_EnqueueBulk(t *testing.T) {
	f := newRunnerFixture(nil)
	f.processed.done = map[string]bool{"done": true}
	f.provider.pages = []*out.MessagePage{
		{
			Messages: []out.MessageRef{
				{ID: "a", ThreadID: "a", From: "friend@x.com"},
				{ID: "mine", ThreadID: "mine", From: "Me <me@example.com>"},
			},
			NextPageToken: "p2",
		},
		{
			Messages: []out.MessageRef{
				{ID: "done", ThreadID: "done", From: "x@y.com"},
				{ID: "b", ThreadID: "a", From: "other@y.com"},
			},
		},
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := f.runner.EnqueueBulk(context.Background(), testUserID, &in.BulkRunRequest{StartDate: start})
	require.NoError(t, err)

	assert.Equal(t, &in.BulkRunResult{Listed: 4, Skipped: 2, Enqueued: 2}, res)
	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, "a", f.queue.jobs[0].MessageID)
	assert.Equal(t, "b", f.queue.jobs[1].MessageID)

	require.Len(t, f.provider.queries, 2)
	assert.Equal(t, "", f.provider.queries[0].PageToken)
	assert.Equal(t, "p2", f.provider.queries[1].PageToken)
	assert.Equal(t, 2, f.provider.queries[0].PageSize)
	assert.Equal(t, start, *f.provider.queries[0].After)
}

func TestRunner_LogsCarryRequestContext(t *testing.T) {
	f := newRunnerFixture(nil)
	f.provider.pages = []*out.MessagePage{{Messages: []out.MessageRef{{ID: "a", ThreadID: "a", From: "x@y.com"}}}}

	ctx := logger.ContextWithUserID(logger.ContextWithRequestID(context.Background(), "req-7"), testUserID.String())
	_, err := f.runner.EnqueueBulk(ctx, testUserID, &in.BulkRunRequest{StartDate: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	var queued map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(f.logs.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "bulk rule run queued" {
			queued = entry
		}
	}
	require.NotNil(t, queued)
	assert.Equal(t, "req-7", queued["request_id"])
	assert.Equal(t, testUserID.String(), queued["user_id"])
	assert.Equal(t, "rule_runner", queued["component"])
}

func TestRunner_EnqueueBulkValidation(t *testing.T) {
	f := newRunnerFixture(nil)

	_, err := f.runner.EnqueueBulk(context.Background(), testUserID, &in.BulkRunRequest{})
	assert.Equal(t, apperr.CodeMissingField, apperr.AsAppError(err).Code)

	start := time.Now()
	end := start.Add(-time.Hour)
	_, err = f.runner.EnqueueBulk(context.Background(), testUserID, &in.BulkRunRequest{StartDate: start, EndDate: &end})
	assert.Equal(t, apperr.CodeInvalidInput, apperr.AsAppError(err).Code)
}

func TestRunner_History(t *testing.T) {
	f := newRunnerFixture([]*domain.Rule{receiptRule()})
	for i := 0; i < 3; i++ {
		_, err := f.runner.RunOnMessage(context.Background(), testUserID, newMessage("a@x.com", "receipt", ""), in.RunOptions{})
		require.NoError(t, err)
	}

	items, err := f.runner.History(context.Background(), testUserID, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRunner_UnknownUser(t *testing.T) {
	f := newRunnerFixture(nil)
	f.runner.userRepo = &fakeUserRepo{}

	_, err := f.runner.TestMessage(context.Background(), testUserID, newMessage("a@x.com", "s", ""))
	assert.Equal(t, apperr.CodeNotFound, apperr.AsAppError(err).Code)
}

func TestRunner_StoreFailuresAreExternalErrors(t *testing.T) {
	storeErr := errors.New("connection refused")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	onePage := []*out.MessagePage{{Messages: []out.MessageRef{{ID: "a", ThreadID: "a", From: "x@y.com"}}}}

	tests := []struct {
		name    string
		setup   func(f *runnerFixture)
		run     func(f *runnerFixture) error
		service string
	}{
		{
			name:  "history save",
			setup: func(f *runnerFixture) { f.history.err = storeErr },
			run: func(f *runnerFixture) error {
				_, err := f.runner.RunOnMessage(context.Background(), testUserID, newMessage("shop@x.com", "Your receipt", ""), in.RunOptions{})
				return err
			},
			service: "mongodb",
		},
		{
			name:  "history list",
			setup: func(f *runnerFixture) { f.history.err = storeErr },
			run: func(f *runnerFixture) error {
				_, err := f.runner.History(context.Background(), testUserID, 10)
				return err
			},
			service: "mongodb",
		},
		{
			name: "processed check",
			setup: func(f *runnerFixture) {
				f.provider.pages = onePage
				f.processed.err = storeErr
			},
			run: func(f *runnerFixture) error {
				_, err := f.runner.EnqueueBulk(context.Background(), testUserID, &in.BulkRunRequest{StartDate: start})
				return err
			},
			service: "redis",
		},
		{
			name: "queue publish",
			setup: func(f *runnerFixture) {
				f.provider.pages = onePage
				f.queue.err = storeErr
			},
			run: func(f *runnerFixture) error {
				_, err := f.runner.EnqueueBulk(context.Background(), testUserID, &in.BulkRunRequest{StartDate: start})
				return err
			},
			service: "redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRunnerFixture([]*domain.Rule{receiptRule()})
			tt.setup(f)

			err := tt.run(f)
			require.Error(t, err)
			assert.ErrorIs(t, err, storeErr)

			appErr := apperr.AsAppError(err)
			assert.Equal(t, apperr.CodeExternalError, appErr.Code)
			assert.Equal(t, tt.service, appErr.Details["service"])
			assert.Equal(t, 502, appErr.HTTPStatus())
		})
	}
}
