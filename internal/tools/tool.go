// Package tools implements the tools the chat model may call and the
// registry that dispatches them.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
)

// Invocation is one tool call together with the session it belongs to.
type Invocation struct {
	SessionID string
	Memory    memory.Snapshot
	Input     map[string]interface{}
}

// Tool is a callable tool.
type Tool interface {
	Definition() llm.ToolDefinition
	Invoke(ctx context.Context, inv Invocation) (string, error)
}

// UserFacingError ends the turn: Message is shown to the user verbatim and
// saved as the assistant reply instead of continuing the tool loop.
type UserFacingError struct {
	Message string
	Err     error
}

func (e *UserFacingError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Err.Error()
}

func (e *UserFacingError) Unwrap() error { return e.Err }

func schema(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func stringArg(input map[string]interface{}, key string) string {
	switch v := input[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intArg(input map[string]interface{}, key string, def int) (int, error) {
	switch v := input[key].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a number", key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}
