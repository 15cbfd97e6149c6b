package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
)

// Registry manages tools and dispatches tool calls.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	recorder func(tool, status string)
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		recorder: func(string, string) {},
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// SetRecorder installs a callback observing every call outcome.
func (r *Registry) SetRecorder(fn func(tool, status string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = fn
}

// Execute dispatches a tool call to its registered tool.
func (r *Registry) Execute(ctx context.Context, sessionID string, snap memory.Snapshot, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	record := r.recorder
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("tool %q not registered", call.Name)
	}

	out, err := t.Invoke(ctx, Invocation{SessionID: sessionID, Memory: snap, Input: call.Input})
	status := "ok"
	if err != nil {
		status = "error"
	}
	record(call.Name, status)
	return out, err
}

// ExecuteConcurrent dispatches calls concurrently and returns results in call
// order. Tool errors become error results for the model, except a
// UserFacingError, which is returned so the caller can end the turn.
func (r *Registry) ExecuteConcurrent(ctx context.Context, sessionID string, snap memory.Snapshot, calls []llm.ToolCall) ([]llm.ToolResult, error) {
	results := make([]llm.ToolResult, len(calls))
	errs := make([]error, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc llm.ToolCall) {
			defer wg.Done()
			output, err := r.Execute(ctx, sessionID, snap, tc)
			if err != nil {
				errs[idx] = err
				results[idx] = llm.ToolResult{
					ToolUseID: tc.ID,
					Content:   err.Error(),
					IsError:   true,
				}
			} else {
				results[idx] = llm.ToolResult{
					ToolUseID: tc.ID,
					Content:   output,
				}
			}
		}(i, call)
	}

	wg.Wait()
	for _, err := range errs {
		var ufe *UserFacingError
		if errors.As(err, &ufe) {
			return results, ufe
		}
	}
	return results, nil
}

// Definitions returns all registered tool definitions sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
