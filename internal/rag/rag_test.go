package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    string
	}{
		{"empty", nil, "<doc rank='0' score='0.000'>NO_RESULTS</doc>"},
		{"two", []Result{{Text: "Go at Acme", Score: 0.91234}, {Text: "Kubernetes", Score: 0.5}},
			"<doc rank='1' score='0.912'>\nGo at Acme\n</doc>\n<doc rank='2' score='0.500'>\nKubernetes\n</doc>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.results); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRewriteInput(t *testing.T) {
	snap := memory.Snapshot{Summary: strings.Repeat("s", 900)}
	for i := 0; i < 8; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		snap.Conversation = append(snap.Conversation, memory.Entry{Role: role, Message: string(rune('a' + i))})
	}
	snap.Conversation = append(snap.Conversation, memory.Entry{Role: llm.RoleAssistant, Message: ""})

	got := RewriteInput(snap, "what about it?")
	if !strings.HasPrefix(got, "[Summary]\n"+strings.Repeat("s", 800)+"\n\n") {
		t.Error("summary not clipped to 800")
	}
	// Last six entries are d..h plus the blank one, which is skipped.
	if !strings.Contains(got, "[RecentConversation]\nassistant: d\nuser: e\nassistant: f\nuser: g\nassistant: h\n\n") {
		t.Errorf("recent block wrong:\n%s", got)
	}
	if !strings.HasSuffix(got, "[CurrentUser]\nwhat about it?") {
		t.Errorf("current block wrong:\n%s", got)
	}
}

func TestRewrite(t *testing.T) {
	long := strings.Repeat("q", 200)
	tests := []struct {
		name  string
		resp  llm.MockResponse
		query string
		want  string
	}{
		{"model answer", llm.MockResponse{Content: "  golang projects acme  "}, "tell me more", "golang projects acme"},
		{"clipped answer", llm.MockResponse{Content: long}, "x", strings.Repeat("q", 120)},
		{"empty answer", llm.MockResponse{Content: " "}, "fallback query", "fallback query"},
		{"model error", llm.MockResponse{Error: errors.New("boom")}, long, strings.Repeat("q", 120)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient(tt.resp)
			got := NewRewriter(mock, "nova-micro").Rewrite(context.Background(), memory.Snapshot{}, tt.query)
			if got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
			if calls := mock.Calls(); len(calls) != 1 || calls[0].System != RewritePrompt || calls[0].MaxTokens != 64 {
				t.Errorf("request = %+v", calls)
			}
		})
	}
}

func TestNilRewriterFallsBack(t *testing.T) {
	var r *Rewriter
	if got := r.Rewrite(context.Background(), memory.Snapshot{}, "plain"); got != "plain" {
		t.Errorf("Rewrite() = %q", got)
	}
}
