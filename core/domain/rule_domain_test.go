package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func int64Ptr(v int64) *int64 { return &v }

func TestRuleConditions(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want []ConditionType
	}{
		{
			name: "no conditions",
			rule: Rule{},
			want: []ConditionType{},
		},
		{
			name: "static only",
			rule: Rule{Subject: "invoice"},
			want: []ConditionType{ConditionStatic},
		},
		{
			name: "blank instructions are not AI",
			rule: Rule{Instructions: "   \n\t"},
			want: []ConditionType{},
		},
		{
			name: "all four",
			rule: Rule{
				From:               "@acme\\.com",
				GroupID:            int64Ptr(3),
				CategoryFilterType: CategoryFilterInclude,
				Instructions:       "receipts",
			},
			want: []ConditionType{ConditionStatic, ConditionGroup, ConditionCategory, ConditionAI},
		},
		{
			name: "category filter type with empty filters still counts",
			rule: Rule{CategoryFilterType: CategoryFilterExclude},
			want: []ConditionType{ConditionCategory},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Conditions().Types())
		})
	}
}

func TestConditionSet(t *testing.T) {
	set := ConditionSet(0).Add(ConditionGroup).Add(ConditionStatic)

	assert.True(t, set.Has(ConditionStatic))
	assert.False(t, set.Has(ConditionAI))
	assert.Equal(t, "{STATIC,GROUP}", set.String())

	set = set.Remove(ConditionStatic).Remove(ConditionGroup)
	assert.True(t, set.Empty())
}

func TestRuleOperator(t *testing.T) {
	assert.Equal(t, LogicalOperatorAnd, (&Rule{}).Operator())
	assert.Equal(t, LogicalOperatorOr, (&Rule{ConditionalOperator: LogicalOperatorOr}).Operator())
}

func TestParsedMessage_IsReplyInThread(t *testing.T) {
	assert.False(t, (&ParsedMessage{ID: "a", ThreadID: "a"}).IsReplyInThread())
	assert.True(t, (&ParsedMessage{ID: "b", ThreadID: "a"}).IsReplyInThread())
	assert.False(t, (&ParsedMessage{ID: "b"}).IsReplyInThread())
}

func TestParsedMessage_SenderAddress(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"Alice <alice@example.com>", "alice@example.com"},
		{"bob@example.com", "bob@example.com"},
		{"not an address", "not an address"},
		{"", ""},
	}
	for _, tt := range tests {
		m := &ParsedMessage{Headers: MessageHeaders{From: tt.from}}
		assert.Equal(t, tt.want, m.SenderAddress(), tt.from)
	}
}

func TestParsedMessage_EmailForLLM(t *testing.T) {
	t.Run("prefers plain text", func(t *testing.T) {
		m := &ParsedMessage{TextPlain: "plain", TextHTML: "<p>html</p>", Snippet: "snip"}
		assert.Equal(t, "plain", m.EmailForLLM(0).Content)
	})

	t.Run("falls back to html as text", func(t *testing.T) {
		m := &ParsedMessage{TextHTML: "<p>Hello <b>there</b></p>", Snippet: "snip"}
		content := m.EmailForLLM(0).Content
		assert.Contains(t, content, "Hello")
		assert.NotContains(t, content, "<b>")
	})

	t.Run("falls back to snippet", func(t *testing.T) {
		m := &ParsedMessage{Snippet: "snip"}
		assert.Equal(t, "snip", m.EmailForLLM(0).Content)
	})

	t.Run("truncates by rune", func(t *testing.T) {
		m := &ParsedMessage{TextPlain: strings.Repeat("é", 20)}
		assert.Equal(t, strings.Repeat("é", 5), m.EmailForLLM(5).Content)
	})

	t.Run("copies headers", func(t *testing.T) {
		m := &ParsedMessage{Headers: MessageHeaders{From: "a@x.com", To: "b@x.com", Subject: "Hi", Cc: "c@x.com", ReplyTo: "r@x.com"}}
		got := m.EmailForLLM(0)
		assert.Equal(t, "a@x.com", got.From)
		assert.Equal(t, "b@x.com", got.To)
		assert.Equal(t, "Hi", got.Subject)
		assert.Equal(t, "c@x.com", got.Cc)
		assert.Equal(t, "r@x.com", got.ReplyTo)
	})
}

func TestMatchReasons_String(t *testing.T) {
	reasons := MatchReasons{
		{Type: ConditionStatic},
		{Type: ConditionGroup, Detail: "from: alice@example.com"},
		{Type: ConditionCategory, Detail: "Newsletter"},
	}
	assert.Equal(t,
		`Matched static conditions, Matched group item: "from: alice@example.com", Matched category: "Newsletter"`,
		reasons.String())

	assert.Equal(t, "Matched category filter", MatchReason{Type: ConditionCategory}.String())
	assert.Equal(t, "looks like a receipt", MatchReason{Type: ConditionAI, Detail: "looks like a receipt"}.String())
}

func TestMatchResult(t *testing.T) {
	var empty *MatchResult
	assert.False(t, empty.Matched())
	assert.Equal(t, "", empty.Reason())

	res := &MatchResult{
		Rule:    &Rule{ID: 1},
		Reasons: MatchReasons{{Type: ConditionStatic}, {Type: ConditionCategory}},
	}
	assert.True(t, res.Matched())
	decided, ok := res.DecidedBy()
	assert.True(t, ok)
	assert.Equal(t, ConditionCategory, decided)
}
