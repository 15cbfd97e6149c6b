package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ConverseAPI is the subset of the Bedrock runtime client used by BedrockClient.
type ConverseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client with the Bedrock Converse API. Tool use is
// not supported; tool definitions on a request are dropped with a warning.
type BedrockClient struct {
	api    ConverseAPI
	logger *slog.Logger
}

// NewBedrockClient wraps a Bedrock runtime client.
func NewBedrockClient(api ConverseAPI, logger *slog.Logger) *BedrockClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockClient{api: api, logger: logger}
}

// Chat sends a single Converse call.
func (c *BedrockClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Tools) > 0 {
		c.logger.Warn("bedrock: tools are not supported, ignoring", "tools", len(req.Tools))
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{},
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		in.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		in.InferenceConfig.Temperature = aws.Float32(float32(*req.Temperature))
	}
	if req.TopP != nil {
		in.InferenceConfig.TopP = aws.Float32(float32(*req.TopP))
	}
	for _, m := range req.Messages {
		if m.Content == "" || m.ToolResult != nil {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		in.Messages = append(in.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	out, err := c.api.Converse(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	resp := &ChatResponse{StopReason: mapBedrockStop(out.StopReason)}
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				resp.Content += text.Value
			}
		}
	}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return resp, nil
}

// ChatStream performs a normal Converse call and delivers the whole reply as
// one text event.
func (c *BedrockClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	resp, err := c.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamEvent, 2)
	if resp.Content != "" {
		ch <- StreamEvent{Type: EventText, Text: resp.Content}
	}
	ch <- StreamEvent{Type: EventDone, Response: resp}
	close(ch)
	return ch, nil
}

func mapBedrockStop(reason types.StopReason) StopReason {
	switch reason {
	case types.StopReasonEndTurn:
		return StopEndTurn
	case types.StopReasonMaxTokens:
		return StopMaxTokens
	case types.StopReasonToolUse:
		return StopToolUse
	case types.StopReasonStopSequence:
		return StopStopSequence
	default:
		return StopReason(string(reason))
	}
}
