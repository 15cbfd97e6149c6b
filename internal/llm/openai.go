package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient implements Client over the chat completions API. It works with
// OpenAI and any compatible endpoint (vLLM, LiteLLM, Ollama) via a base URL.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{client: openai.NewClient(opts...), logger: logger}
}

// Chat sends a non-streaming chat request.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(completion.Choices) == 0 {
		return &ChatResponse{StopReason: StopEndTurn, Usage: openAIUsage(completion.Usage)}, nil
	}

	choice := completion.Choices[0]
	resp := &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      openAIUsage(completion.Usage),
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: c.decodeArguments(tc.Function.Name, tc.Function.Arguments),
		})
	}
	return resp, nil
}

type toolCallAccumulator struct {
	id, name string
	args     strings.Builder
}

// ChatStream streams text deltas and assembles tool calls from their
// fragments; the complete response arrives in the final "done" event.
func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		var (
			content strings.Builder
			calls   = map[int64]*toolCallAccumulator{}
			resp    = &ChatResponse{StopReason: StopEndTurn}
		)
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				resp.Usage = openAIUsage(chunk.Usage)
			}
			for _, choice := range chunk.Choices {
				if choice.FinishReason != "" {
					resp.StopReason = mapFinishReason(choice.FinishReason)
				}
				if d := choice.Delta.Content; d != "" {
					content.WriteString(d)
					if !send(ctx, ch, StreamEvent{Type: EventText, Text: d}) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					acc, ok := calls[tc.Index]
					if !ok {
						acc = &toolCallAccumulator{}
						calls[tc.Index] = acc
					}
					if tc.ID != "" {
						acc.id = tc.ID
					}
					if tc.Function.Name != "" {
						acc.name = tc.Function.Name
					}
					acc.args.WriteString(tc.Function.Arguments)
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, StreamEvent{Type: EventError, Error: fmt.Errorf("openai stream: %w", err)})
			return
		}

		indices := make([]int64, 0, len(calls))
		for i := range calls {
			indices = append(indices, i)
		}
		sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
		for _, i := range indices {
			acc := calls[i]
			tc := ToolCall{ID: acc.id, Name: acc.name, Input: c.decodeArguments(acc.name, acc.args.String())}
			resp.ToolCalls = append(resp.ToolCalls, tc)
			if !send(ctx, ch, StreamEvent{Type: EventToolCallEnd, ToolCall: &tc}) {
				return
			}
		}
		resp.Content = content.String()
		send(ctx, ch, StreamEvent{Type: EventDone, Response: resp})
	}()
	return ch, nil
}

func (c *OpenAIClient) buildParams(req ChatRequest) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch {
		case m.ToolResult != nil:
			msgs = append(msgs, openai.ToolMessage(m.ToolResult.Content, m.ToolResult.ToolUseID))
		case m.Role == RoleAssistant:
			msgs = append(msgs, assistantParam(m))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	for _, t := range req.Tools {
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       t.Name,
				Parameters: shared.FunctionParameters(t.InputSchema),
			},
		}
		if t.Description != "" {
			tool.Function.Description = openai.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params
}

func assistantParam(m Message) openai.ChatCompletionMessageParamUnion {
	p := openai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		p.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)}
	}
	for _, tc := range m.ToolCalls {
		args, err := json.Marshal(tc.Input)
		if err != nil {
			args = []byte("{}")
		}
		p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(args),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &p}
}

func (c *OpenAIClient) decodeArguments(tool, raw string) map[string]interface{} {
	input := make(map[string]interface{})
	if strings.TrimSpace(raw) == "" {
		return input
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		c.logger.Warn("openai: invalid tool arguments", "tool", tool, "error", err)
		return map[string]interface{}{"_error": fmt.Sprintf("failed to parse tool input: %v", err)}
	}
	return input
}

func openAIUsage(u openai.CompletionUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  int(u.PromptTokens),
		OutputTokens: int(u.CompletionTokens),
	}
}

func mapFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		return StopToolUse
	default:
		return StopReason(reason)
	}
}
