package domain

import (
	"net/mail"
	"strings"
	"time"

	"github.com/k3a/html2text"
)

// MessageHeaders holds the header fields rules are matched against.
type MessageHeaders struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Cc      string `json:"cc,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Subject string `json:"subject"`
	Date    string `json:"date,omitempty"`
}

// ParsedMessage is an already-parsed email. It is read-only to the rule engine.
type ParsedMessage struct {
	ID           string         `json:"id"`
	ThreadID     string         `json:"thread_id"`
	Headers      MessageHeaders `json:"headers"`
	Snippet      string         `json:"snippet,omitempty"`
	TextPlain    string         `json:"text_plain,omitempty"`
	TextHTML     string         `json:"text_html,omitempty"`
	LabelIDs     []string       `json:"label_ids,omitempty"`
	InternalDate time.Time      `json:"internal_date,omitempty"`
}

// IsReplyInThread reports whether the message is a later message of an existing thread.
func (m *ParsedMessage) IsReplyInThread() bool {
	return m.ThreadID != "" && m.ID != m.ThreadID
}

// SenderAddress returns the bare address of the From header, or the raw header
// when it cannot be parsed.
func (m *ParsedMessage) SenderAddress() string {
	from := strings.TrimSpace(m.Headers.From)
	if from == "" {
		return ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	return addr.Address
}

// EmailForLLM is the message view handed to the rule oracle.
type EmailForLLM struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// EmailForLLM builds the oracle view. Content prefers the plain-text body, then
// the HTML body as text, then the snippet; it is cut to maxChars runes when maxChars > 0.
func (m *ParsedMessage) EmailForLLM(maxChars int) EmailForLLM {
	content := strings.TrimSpace(m.TextPlain)
	if content == "" && m.TextHTML != "" {
		content = strings.TrimSpace(html2text.HTML2Text(m.TextHTML))
	}
	if content == "" {
		content = strings.TrimSpace(m.Snippet)
	}
	if maxChars > 0 {
		if r := []rune(content); len(r) > maxChars {
			content = string(r[:maxChars])
		}
	}

	return EmailForLLM{
		From:    m.Headers.From,
		To:      m.Headers.To,
		ReplyTo: m.Headers.ReplyTo,
		Cc:      m.Headers.Cc,
		Subject: m.Headers.Subject,
		Content: content,
	}
}
