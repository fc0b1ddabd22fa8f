// Package provider implements the Gmail mailbox adapter.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"rule_server/core/domain"
	"rule_server/core/port/out"
	"rule_server/pkg/apperr"
	"rule_server/pkg/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	defaultPageSize = 25
	// fetchConcurrency bounds parallel metadata fetches per page.
	fetchConcurrency = 10
)

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides the API base URL.
	Endpoint string
	// HTTPClient is the base transport under the OAuth2 client.
	HTTPClient *http.Client
}

// GmailAdapter implements out.MailProvider for Gmail.
type GmailAdapter struct {
	config   *oauth2.Config
	endpoint string
	base     *http.Client
	cb       *gobreaker.CircuitBreaker
	log      *logger.Logger
}

var _ out.MailProvider = (*GmailAdapter)(nil)

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}

	log := logger.WithField("component", "gmail")

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
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

	return &GmailAdapter{
		config:   config,
		endpoint: cfg.Endpoint,
		base:     cfg.HTTPClient,
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		log:      log,
	}
}

// =============================================================================
// Messages
// =============================================================================

// GetMessage fetches and parses a full message.
func (a *GmailAdapter) GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*domain.ParsedMessage, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	err = a.executeWithCircuitBreaker(ctx, "get message", func() error {
		var callErr error
		msg, callErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, a.wrapError(err, "get message")
	}

	return parseMessage(msg), nil
}

// ListMessages lists one page of inbox messages with their From header.
func (a *GmailAdapter) ListMessages(ctx context.Context, token *oauth2.Token, query *out.MessageListQuery) (*out.MessagePage, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	pageSize := int64(defaultPageSize)
	if query.PageSize > 0 {
		pageSize = int64(query.PageSize)
	}

	req := svc.Users.Messages.List("me").LabelIds(out.LabelInbox).MaxResults(pageSize)
	if q := searchQuery(query); q != "" {
		req = req.Q(q)
	}
	if query.PageToken != "" {
		req = req.PageToken(query.PageToken)
	}

	var resp *gmail.ListMessagesResponse
	err = a.executeWithCircuitBreaker(ctx, "list messages", func() error {
		var callErr error
		resp, callErr = req.Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, a.wrapError(err, "list messages")
	}

	return &out.MessagePage{
		Messages:      a.fetchSenders(ctx, svc, resp.Messages),
		NextPageToken: resp.NextPageToken,
	}, nil
}

// fetchSenders loads the From header of each listed message in parallel.
// Messages whose metadata cannot be fetched keep an empty sender.
func (a *GmailAdapter) fetchSenders(ctx context.Context, svc *gmail.Service, refs []*gmail.Message) []out.MessageRef {
	result := make([]out.MessageRef, len(refs))
	sem := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		result[i] = out.MessageRef{ID: ref.Id, ThreadID: ref.ThreadId}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			msg, err := svc.Users.Messages.Get("me", id).
				Format("metadata").
				MetadataHeaders("From").
				Context(ctx).Do()
			if err != nil {
				a.log.WithError(err).Warn("failed to fetch metadata for %s", id)
				return
			}
			result[i].From = getHeader(msg.Payload, "From")
			if result[i].ThreadID == "" {
				result[i].ThreadID = msg.ThreadId
			}
		}(i, ref.Id)
	}

	wg.Wait()
	return result
}

func searchQuery(query *out.MessageListQuery) string {
	var parts []string
	if query.After != nil {
		parts = append(parts, fmt.Sprintf("after:%d", query.After.Unix()))
	}
	if query.Before != nil {
		parts = append(parts, fmt.Sprintf("before:%d", query.Before.Unix()))
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// Labels
// =============================================================================

// ModifyLabels adds and removes labels on a message.
func (a *GmailAdapter) ModifyLabels(ctx context.Context, token *oauth2.Token, messageID string, add, remove []string) error {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}

	err = a.executeWithCircuitBreaker(ctx, "modify labels", func() error {
		_, callErr := svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return a.wrapError(err, "modify labels")
	}
	return nil
}

// EnsureLabel returns the id of the user label called name, creating it when missing.
func (a *GmailAdapter) EnsureLabel(ctx context.Context, token *oauth2.Token, name string) (string, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return "", err
	}

	var labels *gmail.ListLabelsResponse
	err = a.executeWithCircuitBreaker(ctx, "list labels", func() error {
		var callErr error
		labels, callErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", a.wrapError(err, "list labels")
	}

	for _, l := range labels.Labels {
		if strings.EqualFold(l.Name, name) {
			return l.Id, nil
		}
	}

	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}

	var created *gmail.Label
	err = a.executeWithCircuitBreaker(ctx, "create label", func() error {
		var callErr error
		created, callErr = svc.Users.Labels.Create("me", label).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", a.wrapError(err, "create label")
	}
	return created.Id, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	if a.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.base)
	}
	opts := []option.ClientOption{option.WithHTTPClient(a.config.Client(ctx, token))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.ProviderError("gmail", "create service", err)
	}
	return svc, nil
}

// executeWithCircuitBreaker wraps an API call with circuit breaker protection.
// Client errors are passed through without counting as failures.
func (a *GmailAdapter) executeWithCircuitBreaker(ctx context.Context, operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if err != nil {
		a.log.WithContext(ctx).WithError(err).Warn("gmail %s failed, circuit=%s", operation, a.cb.State().String())
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (a *GmailAdapter) wrapError(err error, operation string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 404 {
		return apperr.NotFound("message")
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.ProviderError("gmail", operation, err).WithDetail("circuit", "open")
	}
	return apperr.ProviderError("gmail", operation, err)
}

func parseMessage(msg *gmail.Message) *domain.ParsedMessage {
	parsed := &domain.ParsedMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		parsed.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload == nil {
		return parsed
	}

	parsed.Headers = domain.MessageHeaders{
		From:    getHeader(msg.Payload, "From"),
		To:      getHeader(msg.Payload, "To"),
		Cc:      getHeader(msg.Payload, "Cc"),
		ReplyTo: getHeader(msg.Payload, "Reply-To"),
		Subject: getHeader(msg.Payload, "Subject"),
		Date:    getHeader(msg.Payload, "Date"),
	}
	extractBody(msg.Payload, parsed)
	return parsed
}

// extractBody keeps the first text/plain and text/html parts found depth-first.
func extractBody(part *gmail.MessagePart, msg *domain.ParsedMessage) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if msg.TextPlain == "" {
				msg.TextPlain = decodeBody(part.Body.Data)
			}
		case "text/html":
			if msg.TextHTML == "" {
				msg.TextHTML = decodeBody(part.Body.Data)
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, msg)
	}
}

// decodeBody accepts both padded and unpadded base64url.
func decodeBody(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

func getHeader(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
