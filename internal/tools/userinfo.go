package tools

import (
	"context"
	"log/slog"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/store"
)

// UpdateUserInfo records the visitor's name, company and role.
type UpdateUserInfo struct {
	store  store.Store
	logger *slog.Logger
}

// NewUpdateUserInfo creates the tool.
func NewUpdateUserInfo(st store.Store, logger *slog.Logger) *UpdateUserInfo {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateUserInfo{store: st, logger: logger}
}

func (t *UpdateUserInfo) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "update_user_info",
		Description: "Store details the user shared about themselves. Only pass fields the user actually provided.",
		InputSchema: schema(nil, map[string]interface{}{
			"name":    prop("string", "The user's name"),
			"company": prop("string", "The company the user works for"),
			"role":    prop("string", "The user's job title or role"),
		}),
	}
}

// Invoke merges the provided fields into the profile and reports "ok" or
// "error". Store failures are reported to the model, not raised.
func (t *UpdateUserInfo) Invoke(ctx context.Context, inv Invocation) (string, error) {
	info := store.UserInfo{
		Name:    optional(stringArg(inv.Input, "name")),
		Company: optional(stringArg(inv.Input, "company")),
		Role:    optional(stringArg(inv.Input, "role")),
	}
	if err := t.store.SaveUserInfo(ctx, inv.SessionID, info); err != nil {
		t.logger.Error("failed to store user info", "session_id", inv.SessionID, "error", err)
		return "error", nil
	}
	return "ok", nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
