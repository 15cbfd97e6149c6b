package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockResponse configures a single response from the mock client.
type MockResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      TokenUsage
	Error      error
}

// MockClient is a scripted Client for tests. Responses are returned in order;
// once exhausted, the last one repeats.
type MockClient struct {
	mu        sync.Mutex
	responses []MockResponse
	callIndex int
	calls     []ChatRequest
}

// NewMockClient creates a mock client with a sequence of responses.
func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{responses: responses}
}

// Chat returns the next configured response.
func (m *MockClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock: no responses configured")
	}

	idx := min(m.callIndex, len(m.responses)-1)
	if m.callIndex < len(m.responses) {
		m.callIndex++
	}

	resp := m.responses[idx]
	if resp.Error != nil {
		return nil, resp.Error
	}
	stop := resp.StopReason
	if stop == "" {
		stop = StopEndTurn
		if len(resp.ToolCalls) > 0 {
			stop = StopToolUse
		}
	}
	return &ChatResponse{
		Content:    resp.Content,
		ToolCalls:  resp.ToolCalls,
		StopReason: stop,
		Usage:      resp.Usage,
	}, nil
}

// ChatStream emits the next response word by word, then tool calls, then done.
func (m *MockClient) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		for _, piece := range strings.SplitAfter(resp.Content, " ") {
			if piece == "" {
				continue
			}
			if !send(ctx, ch, StreamEvent{Type: EventText, Text: piece}) {
				return
			}
		}
		for i := range resp.ToolCalls {
			if !send(ctx, ch, StreamEvent{Type: EventToolCallEnd, ToolCall: &resp.ToolCalls[i]}) {
				return
			}
		}
		send(ctx, ch, StreamEvent{Type: EventDone, Response: resp})
	}()
	return ch, nil
}

// Calls returns all requests made to the mock client.
func (m *MockClient) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.calls...)
}

// Reset clears call history and rewinds the response sequence.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callIndex = 0
	m.calls = nil
}
