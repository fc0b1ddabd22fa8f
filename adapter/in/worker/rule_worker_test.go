package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rule_server/core/domain"
	"rule_server/core/port/in"
	"rule_server/pkg/apperr"
	"rule_server/pkg/logger"
)

type fakeRuleService struct {
	mu      sync.Mutex
	calls   []string
	userIDs []uuid.UUID
	reqIDs  []string
	result  *in.RunResult
	err     error
}

func (f *fakeRuleService) TestMessage(context.Context, uuid.UUID, *domain.ParsedMessage) (*domain.MatchResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeRuleService) RunOnMessage(context.Context, uuid.UUID, *domain.ParsedMessage, in.RunOptions) (*in.RunResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeRuleService) RunOnMessageID(ctx context.Context, userID uuid.UUID, messageID string) (*in.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messageID)
	f.userIDs = append(f.userIDs, userID)
	f.reqIDs = append(f.reqIDs, logger.RequestIDFromContext(ctx))
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &in.RunResult{Match: &domain.MatchResult{}}, nil
}

func (f *fakeRuleService) EnqueueBulk(context.Context, uuid.UUID, *in.BulkRunRequest) (*in.BulkRunResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeRuleService) History(context.Context, uuid.UUID, int) ([]*domain.ExecutedRule, error) {
	return nil, errors.New("not used")
}

func runRulesMessage(userID, messageID string) *Message {
	return NewMessage(JobRulesRun, map[string]any{
		"user_id":    userID,
		"message_id": messageID,
	})
}

func TestHandler_RunRules(t *testing.T) {
	userID := uuid.New()
	rule := &domain.Rule{ID: 7, Name: "Receipts"}
	svc := &fakeRuleService{result: &in.RunResult{
		Match:    &domain.MatchResult{Rule: rule, Reasons: domain.MatchReasons{{Type: domain.ConditionStatic}}},
		Executed: &domain.ExecutedRule{Status: domain.ExecutedRuleApplied},
	}}
	h := NewHandler(svc)

	require.NoError(t, h.Process(context.Background(), runRulesMessage(userID.String(), "m1")))
	assert.Equal(t, []string{"m1"}, svc.calls)
	assert.Equal(t, []uuid.UUID{userID}, svc.userIDs)
}

func TestHandler_RestoresRequestID(t *testing.T) {
	svc := &fakeRuleService{}
	h := NewHandler(svc)

	msg := NewMessage(JobRulesRun, map[string]any{
		"user_id":    uuid.NewString(),
		"message_id": "m1",
		"request_id": "req-9",
	})
	require.NoError(t, h.Process(context.Background(), msg))
	require.NoError(t, h.Process(context.Background(), runRulesMessage(uuid.NewString(), "m2")))

	assert.Equal(t, []string{"req-9", ""}, svc.reqIDs)
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name      string
		msg       *Message
		err       error
		permanent bool
	}{
		{
			name:      "bad user id",
			msg:       runRulesMessage("not-a-uuid", "m1"),
			permanent: true,
		},
		{
			name:      "unknown user",
			msg:       runRulesMessage(uuid.NewString(), "m1"),
			err:       apperr.NotFound("user"),
			permanent: true,
		},
		{
			name:      "provider outage",
			msg:       runRulesMessage(uuid.NewString(), "m1"),
			err:       apperr.ProviderError("gmail", "get message", errors.New("503")),
			permanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeRuleService{err: tt.err})
			err := h.Process(context.Background(), tt.msg)
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestHandler_UnknownTypeIgnored(t *testing.T) {
	svc := &fakeRuleService{}
	h := NewHandler(svc)

	assert.NoError(t, h.Process(context.Background(), NewMessage("mail.sync", nil)))
	assert.Empty(t, svc.calls)
}

func TestParsePayload(t *testing.T) {
	msg := NewMessage(JobRulesRun, map[string]any{
		"user_id":    "u",
		"message_id": "m",
		"thread_id":  "t",
	})

	payload, err := ParsePayload[RunRulesPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, "u", payload.UserID)
	assert.Equal(t, "m", payload.MessageID)
	assert.Equal(t, "t", payload.ThreadID)
}

type processorFunc func(ctx context.Context, msg *Message) error

func (f processorFunc) Process(ctx context.Context, msg *Message) error { return f(ctx, msg) }

func newTestPool(t *testing.T, proc Processor) *Pool {
	t.Helper()
	p := NewPool(proc, &PoolConfig{
		Workers:    2,
		JobTimeout: time.Second,
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p
}

func TestPool_ProcessesJobs(t *testing.T) {
	var done int32
	p := newTestPool(t, processorFunc(func(context.Context, *Message) error {
		atomic.AddInt32(&done, 1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		assert.True(t, p.Submit(NewMessage(JobRulesRun, nil)))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return p.GetMetrics().JobsProcessed == 5 }, 2*time.Second, 5*time.Millisecond)
}

func TestPool_RetriesTransientFailures(t *testing.T) {
	var attempts int32
	p := newTestPool(t, processorFunc(func(context.Context, *Message) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.True(t, p.Submit(NewMessage(JobRulesRun, nil)))

	assert.Eventually(t, func() bool { return p.GetMetrics().JobsProcessed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, int64(2), p.GetMetrics().JobsRetried)
}

func TestPool_PermanentFailureNotRetried(t *testing.T) {
	var attempts int32
	p := newTestPool(t, processorFunc(func(context.Context, *Message) error {
		atomic.AddInt32(&attempts, 1)
		return Permanent(errors.New("bad payload"))
	}))

	require.True(t, p.Submit(NewMessage(JobRulesRun, nil)))

	assert.Eventually(t, func() bool { return p.GetMetrics().JobsFailed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Zero(t, p.GetMetrics().JobsRetried)
}

func TestPool_SettlesFinishedJobs(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		settled bool
	}{
		{"success", nil, true},
		{"permanent failure", Permanent(errors.New("bad payload")), true},
		{"exhausted retries", errors.New("transient"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(t, processorFunc(func(context.Context, *Message) error { return tt.err }))

			var acks int32
			msg := NewMessage(JobRulesRun, nil)
			msg.Ack = func() { atomic.AddInt32(&acks, 1) }
			require.True(t, p.Submit(msg))

			require.Eventually(t, func() bool {
				m := p.GetMetrics()
				return m.JobsProcessed+m.JobsFailed == 1
			}, 2*time.Second, 5*time.Millisecond)

			if tt.settled {
				assert.Eventually(t, func() bool { return atomic.LoadInt32(&acks) == 1 }, time.Second, 5*time.Millisecond)
			} else {
				time.Sleep(20 * time.Millisecond)
				assert.Zero(t, atomic.LoadInt32(&acks))
			}
		})
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(processorFunc(func(context.Context, *Message) error { return nil }), nil, zerolog.Nop())
	assert.False(t, p.Submit(NewMessage(JobRulesRun, nil)))

	require.NoError(t, p.Start())
	p.Stop()
	assert.False(t, p.Submit(NewMessage(JobRulesRun, nil)))
}
