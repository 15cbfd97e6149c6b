package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/szaher/minime/internal/llm"
)

// runContract exercises the behavior every backend must share.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty session", func(t *testing.T) {
		s := newStore(t)
		msgs, err := s.GetConversation(ctx, "nobody")
		if err != nil {
			t.Fatalf("GetConversation: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("got %d messages, want 0", len(msgs))
		}
		sum, err := s.GetSummary(ctx, "nobody")
		if err != nil {
			t.Fatalf("GetSummary: %v", err)
		}
		if sum != "" {
			t.Errorf("summary = %q, want empty", sum)
		}
		info, err := s.GetUserInfo(ctx, "nobody")
		if err != nil {
			t.Fatalf("GetUserInfo: %v", err)
		}
		if info != nil {
			t.Errorf("user info = %+v, want nil", info)
		}
	})

	t.Run("messages keep insertion order", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 12; i++ {
			role := llm.RoleUser
			if i%2 == 1 {
				role = llm.RoleAssistant
			}
			if _, err := s.AddMessage(ctx, "s1", role, fmt.Sprintf("m%d", i)); err != nil {
				t.Fatalf("AddMessage %d: %v", i, err)
			}
		}
		if _, err := s.AddMessage(ctx, "s2", llm.RoleUser, "other"); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
		if err := s.SaveSummary(ctx, "s1", "earlier talk"); err != nil {
			t.Fatalf("SaveSummary: %v", err)
		}
		if err := s.SaveUserInfo(ctx, "s1", UserInfo{Name: Ptr("Ada")}); err != nil {
			t.Fatalf("SaveUserInfo: %v", err)
		}

		msgs, err := s.GetConversation(ctx, "s1")
		if err != nil {
			t.Fatalf("GetConversation: %v", err)
		}
		if len(msgs) != 12 {
			t.Fatalf("got %d messages, want 12", len(msgs))
		}
		for i, m := range msgs {
			if want := fmt.Sprintf("m%d", i); m.Content != want {
				t.Errorf("msgs[%d].Content = %q, want %q", i, m.Content, want)
			}
			if m.SessionID != "s1" {
				t.Errorf("msgs[%d].SessionID = %q", i, m.SessionID)
			}
			if m.Timestamp.IsZero() {
				t.Errorf("msgs[%d].Timestamp is zero", i)
			}
		}
		if msgs[1].Role != llm.RoleAssistant {
			t.Errorf("msgs[1].Role = %q, want assistant", msgs[1].Role)
		}
	})

	t.Run("summary overwrite", func(t *testing.T) {
		s := newStore(t)
		if err := s.SaveSummary(ctx, "s1", "first"); err != nil {
			t.Fatalf("SaveSummary: %v", err)
		}
		if err := s.SaveSummary(ctx, "s1", "second"); err != nil {
			t.Fatalf("SaveSummary: %v", err)
		}
		got, err := s.GetSummary(ctx, "s1")
		if err != nil {
			t.Fatalf("GetSummary: %v", err)
		}
		if got != "second" {
			t.Errorf("summary = %q, want %q", got, "second")
		}
	})

	t.Run("user info merge keeps unset fields", func(t *testing.T) {
		s := newStore(t)
		if err := s.SaveUserInfo(ctx, "s1", UserInfo{Name: Ptr("Ada"), Company: Ptr("Acme")}); err != nil {
			t.Fatalf("SaveUserInfo: %v", err)
		}
		if err := s.SaveUserInfo(ctx, "s1", UserInfo{Company: Ptr("Initech"), City: Ptr("Berlin")}); err != nil {
			t.Fatalf("SaveUserInfo: %v", err)
		}
		info, err := s.GetUserInfo(ctx, "s1")
		if err != nil {
			t.Fatalf("GetUserInfo: %v", err)
		}
		if info == nil {
			t.Fatal("GetUserInfo returned nil")
		}
		if Value(info.Name) != "Ada" {
			t.Errorf("Name = %q, want Ada", Value(info.Name))
		}
		if Value(info.Company) != "Initech" {
			t.Errorf("Company = %q, want Initech", Value(info.Company))
		}
		if Value(info.City) != "Berlin" {
			t.Errorf("City = %q, want Berlin", Value(info.City))
		}
		if info.Role != nil {
			t.Errorf("Role = %q, want nil", *info.Role)
		}
	})

	t.Run("clear removes every item", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 30; i++ {
			if _, err := s.AddMessage(ctx, "s1", llm.RoleUser, "x"); err != nil {
				t.Fatalf("AddMessage: %v", err)
			}
		}
		_ = s.SaveSummary(ctx, "s1", "sum")
		_ = s.SaveUserInfo(ctx, "s1", UserInfo{Name: Ptr("Ada")})
		_, _ = s.AddMessage(ctx, "keep", llm.RoleUser, "y")

		if err := s.ClearConversation(ctx, "s1"); err != nil {
			t.Fatalf("ClearConversation: %v", err)
		}
		msgs, _ := s.GetConversation(ctx, "s1")
		sum, _ := s.GetSummary(ctx, "s1")
		info, _ := s.GetUserInfo(ctx, "s1")
		if len(msgs) != 0 || sum != "" || info != nil {
			t.Errorf("after clear: %d msgs, summary %q, info %v", len(msgs), sum, info)
		}
		kept, _ := s.GetConversation(ctx, "keep")
		if len(kept) != 1 {
			t.Errorf("other session has %d messages, want 1", len(kept))
		}
	})

	t.Run("sessions sharing a prefix stay apart", func(t *testing.T) {
		s := newStore(t)
		ids := []string{"a", "a/b", "a/MSG#x"}
		for _, id := range ids {
			if _, err := s.AddMessage(ctx, id, llm.RoleUser, "from "+id); err != nil {
				t.Fatalf("AddMessage(%q): %v", id, err)
			}
			if err := s.SaveSummary(ctx, id, "summary "+id); err != nil {
				t.Fatalf("SaveSummary(%q): %v", id, err)
			}
		}
		for _, id := range ids {
			msgs, err := s.GetConversation(ctx, id)
			if err != nil {
				t.Fatalf("GetConversation(%q): %v", id, err)
			}
			if len(msgs) != 1 || msgs[0].Content != "from "+id {
				t.Errorf("GetConversation(%q) = %+v, want only its own message", id, msgs)
			}
			if sum, _ := s.GetSummary(ctx, id); sum != "summary "+id {
				t.Errorf("GetSummary(%q) = %q", id, sum)
			}
		}

		if err := s.ClearConversation(ctx, "a"); err != nil {
			t.Fatalf("ClearConversation: %v", err)
		}
		for _, id := range ids[1:] {
			msgs, _ := s.GetConversation(ctx, id)
			sum, _ := s.GetSummary(ctx, id)
			if len(msgs) != 1 || sum == "" {
				t.Errorf("clearing %q touched %q: %d msgs, summary %q", "a", id, len(msgs), sum)
			}
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestUserInfoMerge(t *testing.T) {
	u := UserInfo{Name: Ptr("Ada"), IP: Ptr("1.2.3.4")}
	patch := UserInfo{IP: Ptr("5.6.7.8"), TimeZone: Ptr("Europe/Berlin")}
	u.Merge(patch)

	if Value(u.Name) != "Ada" || Value(u.IP) != "5.6.7.8" || Value(u.TimeZone) != "Europe/Berlin" {
		t.Errorf("merged = name %q ip %q tz %q", Value(u.Name), Value(u.IP), Value(u.TimeZone))
	}
	*patch.IP = "changed"
	if Value(u.IP) != "5.6.7.8" {
		t.Error("Merge aliased the patch pointer")
	}
}

func TestOpErrorMatchesUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("save turn: %w", opErr("dynamodb", "add message", cause))

	if !errors.Is(err, ErrUnavailable) {
		t.Error("errors.Is(err, ErrUnavailable) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	var op *OpError
	if !errors.As(err, &op) || op.Backend != "dynamodb" {
		t.Errorf("errors.As OpError = %v", op)
	}
	if opErr("x", "y", nil) != nil {
		t.Error("opErr(nil) should be nil")
	}
}

func TestMessageIDsAreOrdered(t *testing.T) {
	prev := NewMessageID()
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		if id <= prev {
			t.Fatalf("id %s not greater than %s", id, prev)
		}
		prev = id
	}
	if TimeFromID(prev).IsZero() {
		t.Error("TimeFromID returned zero for a valid id")
	}
	if !TimeFromID("not-an-id").IsZero() {
		t.Error("TimeFromID should return zero for invalid ids")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, closeFn, err := Open(context.Background(), Options{Backend: "cassandra"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	closeFn()

	s, closeFn, err := Open(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Open default: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default backend = %T, want *MemoryStore", s)
	}
}
