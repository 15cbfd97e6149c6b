package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/szaher/minime/internal/llm"
)

// Prompts used by LLMSummarizer.
const (
	DialoguePrompt     = "Summarise the following dialogue in 3–4 sentences, preserving key facts and decisions:"
	ConversationPrompt = "Summarise the following conversation in 3-4 sentences, preserving key facts and decisions:"
)

// Sampling defaults for summary calls.
const (
	DefaultSummaryMaxTokens   = 128
	DefaultSummaryTemperature = 0.3
	DefaultSummaryTopP        = 0.9
)

// Summarizer condenses a run of dialogue into a few sentences. Errors are
// treated as a single failed attempt; the caller does not retry.
type Summarizer interface {
	Summarize(ctx context.Context, dialogue []Entry) (string, error)
}

// FormatDialogue renders entries as "role: content" lines.
func FormatDialogue(entries []Entry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%s: %s", e.Role, e.Message)
	}
	return strings.Join(lines, "\n")
}

// LLMSummarizer implements Summarizer with a single model call.
type LLMSummarizer struct {
	client      llm.Client
	model       string
	prompt      string
	maxTokens   int
	temperature float64
	topP        float64
}

// SummarizerOption configures an LLMSummarizer.
type SummarizerOption func(*LLMSummarizer)

// WithPrompt replaces the instruction placed before the dialogue.
func WithPrompt(prompt string) SummarizerOption {
	return func(s *LLMSummarizer) { s.prompt = prompt }
}

// WithMaxTokens caps the length of a generated summary.
func WithMaxTokens(n int) SummarizerOption {
	return func(s *LLMSummarizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// NewLLMSummarizer creates a summarizer that calls model through client.
func NewLLMSummarizer(client llm.Client, model string, opts ...SummarizerOption) *LLMSummarizer {
	s := &LLMSummarizer{
		client:      client,
		model:       model,
		prompt:      DialoguePrompt,
		maxTokens:   DefaultSummaryMaxTokens,
		temperature: DefaultSummaryTemperature,
		topP:        DefaultSummaryTopP,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize renders the dialogue and summarizes it.
func (s *LLMSummarizer) Summarize(ctx context.Context, dialogue []Entry) (string, error) {
	return s.SummarizeText(ctx, FormatDialogue(dialogue))
}

// SummarizeText summarizes an already rendered block.
func (s *LLMSummarizer) SummarizeText(ctx context.Context, block string) (string, error) {
	resp, err := s.client.Chat(ctx, llm.ChatRequest{
		Model:       s.model,
		Messages:    []llm.Message{llm.UserText(s.prompt + "\n\n" + block)},
		MaxTokens:   s.maxTokens,
		Temperature: llm.Float(s.temperature),
		TopP:        llm.Float(s.topP),
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
