// Package llm defines the model invocation layer: a provider-neutral chat
// request/response shape and the clients that speak to each provider.
package llm

import (
	"context"
)

// Role is the author of a conversation message. System instructions travel
// in ChatRequest.System, never as a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two conversation roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// StopReason is the provider's reason for ending a completion, normalised
// across providers.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// Message is one entry of the prompt conversation. An assistant message may
// carry tool calls; a user message may carry the result of one.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// UserText returns a plain user message.
func UserText(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolDefinition advertises a tool to the model. InputSchema is a JSON
// Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult answers a ToolCall, matched by ToolUseID.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TokenUsage is the provider-reported token count of one call, or the sum
// over the calls of a turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates o into u.
func (u *TokenUsage) Add(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ChatRequest is a single model call. Nil sampling fields use the
// provider's default.
type ChatRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

// Float returns a pointer to v, for the optional sampling fields.
func Float(v float64) *float64 { return &v }

// ChatResponse is the complete result of a model call.
type ChatResponse struct {
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// EventType discriminates StreamEvent.
type EventType string

const (
	EventText          EventType = "text"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallEnd   EventType = "tool_call_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// StreamEvent is one increment of a streamed completion. A stream ends
// with exactly one EventDone or EventError.
type StreamEvent struct {
	Type     EventType     `json:"type"`
	Text     string        `json:"text,omitempty"`
	ToolCall *ToolCall     `json:"tool_call,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    error         `json:"-"`
}

// Client calls a chat model.
type Client interface {
	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends a request and returns a channel of streaming events.
	// The channel is closed after the terminal event.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}
