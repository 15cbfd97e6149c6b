package rag

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
)

// RewritePrompt instructs the model to produce a search query.
const RewritePrompt = `You are a search-query generator for a RAG system.
Rewrite the last user message into a concise search query for retrieving the most relevant docs.
Use recent conversation only when it is about the same topic as the last message; if the topic has changed, ignore unrelated history.

Rules:
- Output only the search query (no explanations).
- Keep it short (<= 120 characters, aim for <= 90).
- Use context from earlier messages only if it shares the same subject or entity as the last message.
- Resolve pronouns or vague references ("it", "them", "diagrams") using relevant context.
- Include concrete nouns, project/service names, error codes, dates, and technical terms.
- If context is unrelated, treat the last message as standalone.
- Never invent details not present in the conversation`

const (
	maxQueryChars   = 120
	maxSummaryChars = 800
	maxRecentChars  = 1200
	recentMessages  = 6
)

// Rewriter turns a user message into a standalone search query using the
// session memory.
type Rewriter struct {
	client llm.Client
	model  string
}

// NewRewriter creates a rewriter on client and model.
func NewRewriter(client llm.Client, model string) *Rewriter {
	return &Rewriter{client: client, model: model}
}

// Rewrite returns the search query for message. When the model fails or
// returns nothing, the message itself (truncated) is the query.
func (r *Rewriter) Rewrite(ctx context.Context, snap memory.Snapshot, message string) string {
	fallback := clip(message, maxQueryChars)
	if r == nil || r.client == nil {
		return fallback
	}

	resp, err := r.client.Chat(ctx, llm.ChatRequest{
		Model:       r.model,
		System:      RewritePrompt,
		Messages:    []llm.Message{llm.UserText(RewriteInput(snap, message))},
		MaxTokens:   64,
		Temperature: llm.Float(0),
		TopP:        llm.Float(0.9),
	})
	if err != nil {
		return fallback
	}
	if q := clip(strings.TrimSpace(resp.Content), maxQueryChars); q != "" {
		return q
	}
	return fallback
}

// RewriteInput renders the summary, the recent window and the current
// message into the rewrite request.
func RewriteInput(snap memory.Snapshot, message string) string {
	convo := snap.Conversation
	if len(convo) > recentMessages {
		convo = convo[len(convo)-recentMessages:]
	}
	var lines []string
	for _, e := range convo {
		if e.Message == "" {
			continue
		}
		lines = append(lines, string(e.Role)+": "+e.Message)
	}

	var b strings.Builder
	b.WriteString("[Summary]\n")
	b.WriteString(clip(snap.Summary, maxSummaryChars))
	b.WriteString("\n\n[RecentConversation]\n")
	b.WriteString(clip(strings.Join(lines, "\n"), maxRecentChars))
	b.WriteString("\n\n[CurrentUser]\n")
	b.WriteString(message)
	return b.String()
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
