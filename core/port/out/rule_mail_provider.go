package out

import (
	"context"
	"time"

	"rule_server/core/domain"

	"golang.org/x/oauth2"
)

// MailProvider is the remote mailbox: message fetch and label mutation.
type MailProvider interface {
	GetMessage(ctx context.Context, token *oauth2.Token, messageID string) (*domain.ParsedMessage, error)
	ListMessages(ctx context.Context, token *oauth2.Token, query *MessageListQuery) (*MessagePage, error)
	ModifyLabels(ctx context.Context, token *oauth2.Token, messageID string, add, remove []string) error

	// EnsureLabel returns the id of the label named name, creating it if needed.
	EnsureLabel(ctx context.Context, token *oauth2.Token, name string) (string, error)
}

// MessageListQuery selects inbox messages in a date window.
type MessageListQuery struct {
	After     *time.Time
	Before    *time.Time
	PageToken string
	PageSize  int
}

// MessageRef is a listed message before it is fetched.
type MessageRef struct {
	ID       string
	ThreadID string
	From     string
}

// MessagePage is one page of a message listing.
type MessagePage struct {
	Messages      []MessageRef
	NextPageToken string
}

// Provider label ids used by rule actions.
const (
	LabelInbox     = "INBOX"
	LabelUnread    = "UNREAD"
	LabelImportant = "IMPORTANT"
)
