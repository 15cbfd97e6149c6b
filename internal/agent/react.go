package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
)

// ToolCallRecord is an audit record of a single tool invocation.
type ToolCallRecord struct {
	ID       string                 `json:"id"`
	ToolName string                 `json:"tool_name"`
	Input    map[string]interface{} `json:"input"`
	Output   string                 `json:"output"`
	Error    string                 `json:"error,omitempty"`
}

type invocation struct {
	sessionID string
	snapshot  memory.Snapshot
	system    string
	messages  []llm.Message
}

// react runs the reason-act-observe loop: stream a model turn, run any
// requested tools, feed the results back, and repeat until the model answers
// without tools. After MaxToolTurns tool rounds the model is asked once more
// with tools withheld, so every turn ends in text.
func (a *Agent) react(ctx context.Context, cfg Config, inv invocation, onChunk ChunkFunc) (*Result, error) {
	messages := append([]llm.Message(nil), inv.messages...)
	res := &Result{}
	defs := a.tools.Definitions()

	for turn := 0; ; turn++ {
		res.Turns++

		req := llm.ChatRequest{
			Model:       cfg.Model,
			Messages:    messages,
			System:      inv.system,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
		}
		if turn < cfg.MaxToolTurns {
			req.Tools = defs
		}

		resp, err := a.streamTurn(ctx, req, onChunk)
		if err != nil {
			return res, fmt.Errorf("model turn %d: %w", turn+1, err)
		}
		res.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 || resp.StopReason != llm.StopToolUse || req.Tools == nil {
			res.Reply = resp.Content
			return res, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		started := time.Now()
		results, err := a.tools.ExecuteConcurrent(ctx, inv.sessionID, inv.snapshot, resp.ToolCalls)
		a.logger.Debug("tools executed", "session_id", inv.sessionID, "count", len(results), "duration", time.Since(started))
		for i, result := range results {
			tc := resp.ToolCalls[i]
			record := ToolCallRecord{
				ID:       tc.ID,
				ToolName: tc.Name,
				Input:    tc.Input,
				Output:   result.Content,
			}
			if result.IsError {
				record.Error = result.Content
			}
			res.ToolCalls = append(res.ToolCalls, record)

			messages = append(messages, llm.Message{
				Role:       llm.RoleUser,
				ToolResult: &result,
			})
		}
		if err != nil {
			return res, err
		}
	}
}

// streamTurn runs one streamed model call, forwarding text to onChunk.
func (a *Agent) streamTurn(ctx context.Context, req llm.ChatRequest, onChunk ChunkFunc) (*llm.ChatResponse, error) {
	ch, err := a.client.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp *llm.ChatResponse
	for event := range ch {
		switch event.Type {
		case llm.EventText:
			if event.Text != "" {
				onChunk(event.Text)
			}
		case llm.EventError:
			return nil, event.Error
		}
		if event.Response != nil {
			resp = event.Response
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("stream ended without a response")
	}
	return resp, nil
}
