// Package testutil provides shared test helpers to reduce boilerplate across unit tests.
package testutil

import (
	"context"
	"strings"
	"testing"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/store"
)

// SeedConversation appends messages to the session, alternating user and
// assistant roles starting with user.
func SeedConversation(t *testing.T, st store.Store, sessionID string, messages ...string) {
	t.Helper()
	for i, content := range messages {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		if _, err := st.AddMessage(context.Background(), sessionID, role, content); err != nil {
			t.Fatalf("seeding message %d: %v", i, err)
		}
	}
}

// Conversation returns the stored log as "role:content" strings.
func Conversation(t *testing.T, st store.Store, sessionID string) []string {
	t.Helper()
	msgs, err := st.GetConversation(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

// AssertErrorContains asserts that err is non-nil and its message contains substr.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("expected error containing %q, got %q", substr, err.Error())
	}
}
