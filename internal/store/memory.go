package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/szaher/minime/internal/llm"
)

// MemoryStore is an in-process Store. Used by tests, the chat command and
// single-node deployments without durable storage.
type MemoryStore struct {
	mu         sync.Mutex
	partitions map[string]*partition
	now        func() time.Time
}

type partition struct {
	messages map[string]Message
	summary  *string
	profile  *UserInfo
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[string]*partition),
		now:        time.Now,
	}
}

func (s *MemoryStore) part(sessionID string) *partition {
	p, ok := s.partitions[sessionID]
	if !ok {
		p = &partition{messages: make(map[string]Message)}
		s.partitions[sessionID] = p
	}
	return p
}

// AddMessage appends a message to the session log.
func (s *MemoryStore) AddMessage(_ context.Context, sessionID string, role llm.Role, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		SessionID: sessionID,
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	s.part(sessionID).messages[msg.ID] = msg
	return msg, nil
}

// GetConversation returns the session log sorted by message id.
func (s *MemoryStore) GetConversation(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]Message, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSummary returns the running summary.
func (s *MemoryStore) GetSummary(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[sessionID]
	if !ok || p.summary == nil {
		return "", nil
	}
	return *p.summary, nil
}

// SaveSummary replaces the running summary.
func (s *MemoryStore) SaveSummary(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.part(sessionID).summary = &text
	return nil
}

// GetUserInfo returns a copy of the stored profile.
func (s *MemoryStore) GetUserInfo(_ context.Context, sessionID string) (*UserInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[sessionID]
	if !ok || p.profile == nil {
		return nil, nil
	}
	cp := UserInfo{}
	cp.Merge(*p.profile)
	return &cp, nil
}

// SaveUserInfo merges info into the stored profile.
func (s *MemoryStore) SaveUserInfo(_ context.Context, sessionID string, info UserInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.part(sessionID)
	if p.profile == nil {
		p.profile = &UserInfo{}
	}
	p.profile.Merge(info)
	return nil
}

// ClearConversation drops the whole partition.
func (s *MemoryStore) ClearConversation(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, sessionID)
	return nil
}

// Sessions returns the ids of all sessions with stored items.
func (s *MemoryStore) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
