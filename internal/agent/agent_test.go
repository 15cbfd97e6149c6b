package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
	"github.com/szaher/minime/internal/store"
	"github.com/szaher/minime/internal/testutil"
	"github.com/szaher/minime/internal/tools"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(context.Context, []memory.Entry) (string, error) {
	return "earlier talk", nil
}

type stubTool struct {
	name   string
	result string
	err    error
	calls  int
}

func (s *stubTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: s.name, Description: s.name}
}

func (s *stubTool) Invoke(context.Context, tools.Invocation) (string, error) {
	s.calls++
	return s.result, s.err
}

func newTestAgent(client llm.Client, st store.Store, cfg Config, ts ...tools.Tool) *Agent {
	opener := memory.Opener{Store: st, Summarizer: stubSummarizer{}}
	a := New(client, opener, tools.NewRegistry(ts...), cfg)
	a.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	return a
}

func TestChatSimpleReply(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		Content: "Hi there, I'm doing well",
		Usage:   llm.TokenUsage{InputTokens: 12, OutputTokens: 6},
	})
	st := store.NewMemoryStore()
	a := newTestAgent(client, st, Config{
		Model:       "mock",
		Persona:     "PERSONA",
		Temperature: llm.Float(0.7),
		TopP:        llm.Float(0.9),
	})

	var streamed strings.Builder
	res, err := a.Chat(context.Background(), "s1", "hello", func(s string) { streamed.WriteString(s) })
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Reply != "Hi there, I'm doing well" {
		t.Errorf("Reply = %q", res.Reply)
	}
	if streamed.String() != res.Reply {
		t.Errorf("streamed %q, want %q", streamed.String(), res.Reply)
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 6 {
		t.Errorf("Usage = %+v", res.Usage)
	}

	got := testutil.Conversation(t, st, "s1")
	want := []string{"user:hello", "assistant:Hi there, I'm doing well"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("conversation = %v, want %v", got, want)
	}

	req := client.Calls()[0]
	if !strings.HasPrefix(req.System, "Today is: Friday, 14 March 2025") || !strings.HasSuffix(req.System, "PERSONA") {
		t.Errorf("System = %q", req.System)
	}
	if req.Temperature == nil || *req.Temperature != 0.7 || req.TopP == nil || *req.TopP != 0.9 {
		t.Errorf("sampling = %v/%v, want 0.7/0.9", req.Temperature, req.TopP)
	}
}

func TestChatUsesPriorMemory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	testutil.SeedConversation(t, st, "s1", "my name is Ada", "nice to meet you Ada")
	if err := st.SaveSummary(ctx, "s1", "Ada works on engines."); err != nil {
		t.Fatal(err)
	}

	client := llm.NewMockClient(llm.MockResponse{Content: "You are Ada."})
	a := newTestAgent(client, st, Config{Model: "mock", Persona: "P"})
	if _, err := a.Chat(ctx, "s1", "who am I?", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	req := client.Calls()[0]
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(req.Messages))
	}
	if req.Messages[2].Content != "who am I?" || req.Messages[2].Role != llm.RoleUser {
		t.Errorf("last message = %+v", req.Messages[2])
	}
	if !strings.Contains(req.System, "[Past Convo Summary]\nAda works on engines.") {
		t.Errorf("System missing summary: %q", req.System)
	}
}

func TestChatWithToolCall(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{
			ToolCalls: []llm.ToolCall{{ID: "c1", Name: "get_current_time", Input: map[string]interface{}{}}},
		},
		llm.MockResponse{Content: "It is 9am."},
	)
	st := store.NewMemoryStore()
	clock := &stubTool{name: "get_current_time", result: "2025-03-14T09:00:00Z"}
	a := newTestAgent(client, st, Config{Model: "mock"}, clock)

	res, err := a.Chat(context.Background(), "s1", "what time is it?", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Reply != "It is 9am." || res.Turns != 2 {
		t.Errorf("Reply = %q, Turns = %d", res.Reply, res.Turns)
	}
	if clock.calls != 1 || len(res.ToolCalls) != 1 || res.ToolCalls[0].Output != "2025-03-14T09:00:00Z" {
		t.Errorf("tool calls = %+v", res.ToolCalls)
	}

	second := client.Calls()[1]
	last := second.Messages[len(second.Messages)-1]
	if last.ToolResult == nil || last.ToolResult.ToolUseID != "c1" {
		t.Errorf("tool result not fed back: %+v", last)
	}
	if got := testutil.Conversation(t, st, "s1"); len(got) != 2 || got[1] != "assistant:It is 9am." {
		t.Errorf("conversation = %v", got)
	}
}

func TestChatStopsAtMaxToolTurns(t *testing.T) {
	loop := llm.MockResponse{
		Content:   "still working",
		ToolCalls: []llm.ToolCall{{ID: "c", Name: "search_docs", Input: map[string]interface{}{"query": "x"}}},
	}
	client := llm.NewMockClient(loop, loop, loop)
	search := &stubTool{name: "search_docs", result: "nothing"}
	a := newTestAgent(client, store.NewMemoryStore(), Config{Model: "mock", MaxToolTurns: 2}, search)

	res, err := a.Chat(context.Background(), "s1", "tell me", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Turns != 3 || search.calls != 2 {
		t.Errorf("Turns = %d, tool calls = %d", res.Turns, search.calls)
	}
	calls := client.Calls()
	if calls[2].Tools != nil {
		t.Error("final call should withhold tools")
	}
	if res.Reply != "still working" {
		t.Errorf("Reply = %q", res.Reply)
	}
}

func TestChatUserFacingToolError(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{
		ToolCalls: []llm.ToolCall{{ID: "m1", Name: "schedule_meeting", Input: map[string]interface{}{}}},
	})
	st := store.NewMemoryStore()
	book := &stubTool{name: "schedule_meeting", err: &tools.UserFacingError{
		Message: "Sorry, please contact me directly.",
		Err:     errors.New("calendar 500"),
	}}
	a := newTestAgent(client, st, Config{Model: "mock"}, book)

	var streamed string
	res, err := a.Chat(context.Background(), "s1", "book a call", func(s string) { streamed += s })
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Reply != "Sorry, please contact me directly." || streamed != res.Reply {
		t.Errorf("Reply = %q, streamed = %q", res.Reply, streamed)
	}
	if len(client.Calls()) != 1 {
		t.Errorf("model called %d times after user-facing error", len(client.Calls()))
	}
	got := testutil.Conversation(t, st, "s1")
	if len(got) != 2 || got[1] != "assistant:Sorry, please contact me directly." {
		t.Errorf("conversation = %v", got)
	}
}

func TestChatModelErrorPersistsNothing(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{Error: errors.New("throttled")})
	st := store.NewMemoryStore()
	a := newTestAgent(client, st, Config{Model: "mock"})

	_, err := a.Chat(context.Background(), "s1", "hello", nil)
	testutil.AssertErrorContains(t, err, "throttled")
	if got := testutil.Conversation(t, st, "s1"); len(got) != 0 {
		t.Errorf("conversation = %v, want empty", got)
	}
}

func TestSetPersona(t *testing.T) {
	client := llm.NewMockClient(llm.MockResponse{Content: "ok"})
	a := newTestAgent(client, store.NewMemoryStore(), Config{Model: "mock", Persona: "old"})
	a.SetPersona("new persona")
	if _, err := a.Chat(context.Background(), "s1", "hi", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(client.Calls()[0].System, "new persona") {
		t.Errorf("System = %q", client.Calls()[0].System)
	}
}

func TestBuildMessages(t *testing.T) {
	tests := []struct {
		name string
		snap memory.Snapshot
		want []string
	}{
		{
			name: "empty",
			want: []string{"user:now"},
		},
		{
			name: "drops leading assistant and blanks",
			snap: memory.Snapshot{Conversation: []memory.Entry{
				{Role: llm.RoleAssistant, Message: "orphan"},
				{Role: llm.RoleUser, Message: "a"},
				{Role: llm.RoleAssistant, Message: "  "},
				{Role: llm.RoleAssistant, Message: "b"},
			}},
			want: []string{"user:a", "assistant:b", "user:now"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := BuildMessages(tt.snap, "now")
			got := make([]string, len(msgs))
			for i, m := range msgs {
				got[i] = string(m.Role) + ":" + m.Content
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	now := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	got := SystemPrompt(now, "", "P")
	if got != "Today is: Monday, 6 January 2025\n\nP" {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, "[Past Convo Summary]") {
		t.Error("empty summary should be omitted")
	}
}

func TestDefaultPersona(t *testing.T) {
	p := DefaultPersona("Ada")
	if !strings.Contains(p, "AdaBot") || !strings.Contains(p, "real Ada") {
		t.Errorf("persona not rendered: %q", p[:80])
	}
}
