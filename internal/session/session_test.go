package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/szaher/minime/internal/events"
	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/store"
)

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) Publish(_ context.Context, ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Type
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(idle time.Duration) (*Manager, *MemoryStore, *store.MemoryStore, *collector, *clock) {
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	sessions := NewMemoryStore()
	sessions.now = clk.now
	convo := store.NewMemoryStore()
	pub := &collector{}
	m := NewManager(sessions, convo, WithPublisher(pub), WithIdleTimeout(idle))
	m.now = clk.now
	return m, sessions, convo, pub, clk
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sess, err := s.Create(ctx, "", "203.0.113.7")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.ID) != 26 {
		t.Errorf("generated id %q is not a ULID", sess.ID)
	}
	if _, err := s.Create(ctx, sess.ID, ""); err == nil {
		t.Error("duplicate Create should fail")
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil || got.RemoteIP != "203.0.113.7" {
		t.Errorf("Get = %+v, %v", got, err)
	}
	got.RemoteIP = "mutated"
	if again, _ := s.Get(ctx, sess.ID); again.RemoteIP != "203.0.113.7" {
		t.Error("Get returned a shared pointer")
	}

	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := s.Touch(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch after delete = %v, want ErrNotFound", err)
	}
}

func TestStartRaisesEventOnce(t *testing.T) {
	m, _, _, pub, _ := newTestManager(time.Minute)
	ctx := context.Background()

	sess, created, err := m.Start(ctx, "s1", "203.0.113.7")
	if err != nil || !created || sess.ID != "s1" {
		t.Fatalf("Start = %+v, %v, %v", sess, created, err)
	}
	if _, created, err = m.Start(ctx, "s1", "203.0.113.7"); err != nil || created {
		t.Fatalf("second Start created=%v err=%v", created, err)
	}

	got := pub.types()
	if len(got) != 1 || got[0] != events.ConversationStarted {
		t.Errorf("events = %v", got)
	}
	if pub.events[0].IP != "203.0.113.7" {
		t.Errorf("start event IP = %q", pub.events[0].IP)
	}

	fresh, created, err := m.Start(ctx, "", "")
	if err != nil || !created || fresh.ID == "" {
		t.Errorf("Start with empty id = %+v, %v, %v", fresh, created, err)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"s1", true},
		{"01HZX3N9QK8Y2V6W4T0R5M7P1D", true},
		{"chat_tab-2", true},
		{"", false},
		{"a/b", false},
		{"a/MSG#x", false},
		{"../etc", false},
		{"with space", false},
		{strings.Repeat("x", 128), true},
		{strings.Repeat("x", 129), false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := ValidID(tt.id); got != tt.want {
				t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
	if !ValidID(GenerateID()) {
		t.Error("generated id rejected")
	}
}

func TestStartRejectsInvalidID(t *testing.T) {
	m, sessions, _, pub, _ := newTestManager(time.Minute)
	_, _, err := m.Start(context.Background(), "a/b", "")
	if !errors.Is(err, ErrInvalidID) {
		t.Fatalf("Start error = %v, want ErrInvalidID", err)
	}
	if all, _ := sessions.List(context.Background()); len(all) != 0 {
		t.Errorf("stored %d sessions", len(all))
	}
	if len(pub.types()) != 0 {
		t.Errorf("events = %v", pub.types())
	}
}

func TestAcquireIsSingleFlight(t *testing.T) {
	m, _, _, _, _ := newTestManager(0)

	if !m.Acquire("s1") {
		t.Fatal("first Acquire failed")
	}
	if m.Acquire("s1") {
		t.Error("second Acquire on busy session succeeded")
	}
	if !m.Acquire("s2") {
		t.Error("Acquire on a different session failed")
	}
	m.Release("s1")
	if !m.Acquire("s1") {
		t.Error("Acquire after Release failed")
	}
}

func TestEnd(t *testing.T) {
	m, _, _, pub, _ := newTestManager(time.Minute)
	ctx := context.Background()

	if _, _, err := m.Start(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.End(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := m.End(ctx, "s1"); err != nil {
		t.Fatalf("ending twice: %v", err)
	}

	got := pub.types()
	if len(got) != 2 || got[1] != events.ConversationEnded {
		t.Errorf("events = %v", got)
	}
}

func TestExpireIdle(t *testing.T) {
	m, _, _, pub, clk := newTestManager(30 * time.Minute)
	ctx := context.Background()

	for _, id := range []string{"old", "busy", "fresh"} {
		if _, _, err := m.Start(ctx, id, ""); err != nil {
			t.Fatal(err)
		}
	}
	clk.t = clk.t.Add(45 * time.Minute)
	if err := m.Touch(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}
	m.Acquire("busy")

	n, err := m.ExpireIdle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expired %d sessions, want 1", n)
	}
	if _, err := m.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Error("idle session still tracked")
	}
	for _, id := range []string{"busy", "fresh"} {
		if _, err := m.Get(ctx, id); err != nil {
			t.Errorf("%s was expired: %v", id, err)
		}
	}
	if got := pub.types(); got[len(got)-1] != events.ConversationEnded {
		t.Errorf("events = %v", got)
	}
}

func TestExpireIdleDisabled(t *testing.T) {
	m, _, _, _, clk := newTestManager(0)
	if _, _, err := m.Start(context.Background(), "s1", ""); err != nil {
		t.Fatal(err)
	}
	clk.t = clk.t.Add(24 * time.Hour)
	if n, err := m.ExpireIdle(context.Background()); n != 0 || err != nil {
		t.Errorf("ExpireIdle = %d, %v", n, err)
	}
}

func TestClear(t *testing.T) {
	m, _, convo, pub, _ := newTestManager(time.Minute)
	ctx := context.Background()

	if _, _, err := m.Start(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := convo.AddMessage(ctx, "s1", llm.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := convo.SaveSummary(ctx, "s1", "greeting"); err != nil {
		t.Fatal(err)
	}

	if err := m.Clear(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := convo.GetConversation(ctx, "s1")
	summary, _ := convo.GetSummary(ctx, "s1")
	if len(msgs) != 0 || summary != "" {
		t.Errorf("after Clear: %d messages, summary %q", len(msgs), summary)
	}
	if got := pub.types(); len(got) != 1 {
		t.Errorf("Clear raised events: %v", got)
	}
}

func TestActiveGauge(t *testing.T) {
	var last int
	m := NewManager(NewMemoryStore(), store.NewMemoryStore(), WithActiveGauge(func(n int) { last = n }))
	ctx := context.Background()

	m.Start(ctx, "a", "")
	m.Start(ctx, "b", "")
	if last != 2 {
		t.Errorf("gauge = %d, want 2", last)
	}
	m.End(ctx, "a")
	if last != 1 {
		t.Errorf("gauge = %d, want 1", last)
	}
}

func TestSweeper(t *testing.T) {
	m, _, _, _, _ := newTestManager(time.Minute)
	if _, err := NewSweeper(m, "not a schedule", nil); err == nil {
		t.Error("expected invalid schedule error")
	}

	s, err := NewSweeper(m, "@every 1h", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("bogus", "evict", func() {}); err == nil {
		t.Error("expected invalid job schedule error")
	}
	if err := s.AddJob("@every 1h", "evict", func() {}); err != nil {
		t.Errorf("AddJob = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
