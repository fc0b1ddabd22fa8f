// Package oracle adapts an OpenAI-compatible chat model into the rule chooser.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/out"
	"rule_server/pkg/apperr"
	"rule_server/pkg/logger"
	"rule_server/pkg/metrics"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const (
	DefaultModel        = "gpt-4o-mini"
	defaultMaxTokens    = 512
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyChars = 2000
)

// Config configures the chooser.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	MaxBodyChars int
	// HTTPClient replaces the SDK's default client when set.
	HTTPClient *http.Client
}

// Chooser asks a chat model which of the candidate rules fits a message.
type Chooser struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float32
	timeout      time.Duration
	maxBodyChars int
	cb           *gobreaker.CircuitBreaker
	log          *logger.Logger
}

var _ out.RuleChooser = (*Chooser)(nil)

// NewChooser creates a chooser. BaseURL may point at any OpenAI-compatible endpoint.
func NewChooser(cfg Config) *Chooser {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBodyChars := cfg.MaxBodyChars
	if maxBodyChars <= 0 {
		maxBodyChars = defaultMaxBodyChars
	}

	log := logger.WithField("component", "rule_oracle")

	cbSettings := gobreaker.Settings{
		Name:        "rule-oracle",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Chooser{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		maxTokens:    maxTokens,
		temperature:  float32(cfg.Temperature),
		timeout:      timeout,
		maxBodyChars: maxBodyChars,
		cb:           gobreaker.NewCircuitBreaker(cbSettings),
		log:          log,
	}
}

// choice is the model's JSON answer. RuleNumber is 1-based; null or 0 means none.
type choice struct {
	Reason     string `json:"reason"`
	RuleNumber *int   `json:"ruleNumber"`
}

// ChooseRule returns the selected candidate, or nil when the model picks none.
func (c *Chooser) ChooseRule(ctx context.Context, input *out.ChooseRuleInput) (*out.ChooseRuleOutput, error) {
	if input == nil || len(input.Candidates) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.cb.Execute(func() (interface{}, error) {
		return c.complete(ctx, systemPrompt, buildUserPrompt(input, c.maxBodyChars))
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ObserveOracle("timeout", time.Since(start))
			return nil, apperr.Timeout("rule oracle").WithError(err)
		}
		metrics.ObserveOracle("error", time.Since(start))
		return nil, apperr.OracleError(err)
	}

	var answer choice
	if err := json.Unmarshal([]byte(raw.(string)), &answer); err != nil {
		metrics.ObserveOracle("error", time.Since(start))
		return nil, apperr.OracleError(fmt.Errorf("decode answer: %w", err))
	}

	if answer.RuleNumber == nil || *answer.RuleNumber == 0 {
		metrics.ObserveOracle("none", time.Since(start))
		return nil, nil
	}

	n := *answer.RuleNumber
	if n < 1 || n > len(input.Candidates) {
		metrics.ObserveOracle("none", time.Since(start))
		c.log.WithContext(ctx).WithField("rule_number", n).Warn("oracle answered with an out of range rule number")
		return nil, nil
	}

	metrics.ObserveOracle("selected", time.Since(start))
	return &out.ChooseRuleOutput{
		RuleID: input.Candidates[n-1].Rule.ID,
		Reason: strings.TrimSpace(answer.Reason),
	}, nil
}

func (c *Chooser) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "{}", nil
	}

	return resp.Choices[0].Message.Content, nil
}

const systemPrompt = `You are an AI assistant that helps people manage their emails.
You are given a numbered list of rules and an email. Pick the single rule that best fits the email.
Only pick a rule when the email clearly matches its instructions. If none applies, pick none.

Respond with a JSON object:
{"reason": "<one sentence explaining the choice>", "ruleNumber": <number of the rule, or null for none>}`

func buildUserPrompt(input *out.ChooseRuleInput, maxBodyChars int) string {
	var b strings.Builder

	b.WriteString("<rules>\n")
	for i, candidate := range input.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(candidate.Instructions))
	}
	b.WriteString("</rules>\n\n")

	if user := input.User; user != nil && (user.About != "" || user.Email != "") {
		b.WriteString("<user_info>\n")
		if user.Email != "" {
			fmt.Fprintf(&b, "<email>%s</email>\n", user.Email)
		}
		if user.About != "" {
			fmt.Fprintf(&b, "<about>%s</about>\n", user.About)
		}
		b.WriteString("</user_info>\n\n")
	}

	if input.Message != nil {
		writeEmail(&b, input.Message.EmailForLLM(maxBodyChars))
	}

	return b.String()
}

func writeEmail(b *strings.Builder, email domain.EmailForLLM) {
	b.WriteString("<email>\n")
	fmt.Fprintf(b, "From: %s\n", email.From)
	if email.ReplyTo != "" {
		fmt.Fprintf(b, "Reply-To: %s\n", email.ReplyTo)
	}
	if email.To != "" {
		fmt.Fprintf(b, "To: %s\n", email.To)
	}
	if email.Cc != "" {
		fmt.Fprintf(b, "Cc: %s\n", email.Cc)
	}
	fmt.Fprintf(b, "Subject: %s\n", email.Subject)
	fmt.Fprintf(b, "Body: %s\n", email.Content)
	b.WriteString("</email>")
}
