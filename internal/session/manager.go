package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/szaher/minime/internal/events"
	"github.com/szaher/minime/internal/store"
)

// Publisher receives lifecycle events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Event) {}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets the lifecycle event sink.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIdleTimeout sets how long a session may stay quiet before ExpireIdle
// ends it. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idle = d }
}

// WithActiveGauge reports the number of tracked sessions after each change.
func WithActiveGauge(fn func(int)) Option {
	return func(m *Manager) { m.gauge = fn }
}

// Manager handles session lifecycle: start, single-flight turns, end, expire.
type Manager struct {
	sessions  Store
	convo     store.Store
	publisher Publisher
	logger    *slog.Logger
	idle      time.Duration
	gauge     func(int)
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	count    int
}

// NewManager creates a session manager. convo is used only by Clear.
func NewManager(sessions Store, convo store.Store, opts ...Option) *Manager {
	m := &Manager{
		sessions:  sessions,
		convo:     convo,
		publisher: nopPublisher{},
		logger:    slog.Default(),
		gauge:     func(int) {},
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start returns the live session for id, creating it and raising
// ConversationStarted when it is new. An empty id gets a generated one.
func (m *Manager) Start(ctx context.Context, id, remoteIP string) (*Session, bool, error) {
	if id != "" {
		if !ValidID(id) {
			return nil, false, fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
		if sess, err := m.sessions.Get(ctx, id); err == nil {
			if err := m.sessions.Touch(ctx, id); err != nil {
				return nil, false, err
			}
			return sess, false, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	} else {
		id = GenerateID()
	}

	sess, err := m.sessions.Create(ctx, id, remoteIP)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	m.adjust(1)
	m.logger.Info("session started", "session_id", id, "ip", remoteIP)
	m.publisher.Publish(ctx, events.New(events.ConversationStarted, id, remoteIP))
	return sess, true, nil
}

// Get retrieves a live session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.sessions.Get(ctx, id)
}

// Touch marks the session active.
func (m *Manager) Touch(ctx context.Context, id string) error {
	return m.sessions.Touch(ctx, id)
}

// Acquire claims the session for one turn. It returns false while another
// turn on the same session is in flight.
func (m *Manager) Acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

// Release ends the turn claimed by Acquire.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, id)
}

func (m *Manager) busy(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[id]
	return ok
}

func (m *Manager) adjust(delta int) {
	m.mu.Lock()
	m.count += delta
	n := m.count
	m.mu.Unlock()
	m.gauge(n)
}

// End forgets the session and raises ConversationEnded. Ending an unknown
// session is a no-op.
func (m *Manager) End(ctx context.Context, id string) error {
	if _, err := m.sessions.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := m.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.adjust(-1)
	m.logger.Info("session ended", "session_id", id)
	m.publisher.Publish(ctx, events.New(events.ConversationEnded, id, ""))
	return nil
}

// ExpireIdle ends every session idle for longer than the idle timeout and
// not currently in a turn. It returns the number of sessions ended.
func (m *Manager) ExpireIdle(ctx context.Context) (int, error) {
	if m.idle <= 0 {
		return 0, nil
	}
	all, err := m.sessions.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.idle)
	ended := 0
	for _, sess := range all {
		if sess.LastActive.After(cutoff) || m.busy(sess.ID) {
			continue
		}
		if err := m.End(ctx, sess.ID); err != nil {
			return ended, err
		}
		ended++
	}
	return ended, nil
}

// Clear deletes every stored item of the session and forgets it without
// raising ConversationEnded.
func (m *Manager) Clear(ctx context.Context, id string) error {
	if err := m.convo.ClearConversation(ctx, id); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	if _, err := m.sessions.Get(ctx, id); err == nil {
		if err := m.sessions.Delete(ctx, id); err != nil {
			return err
		}
		m.adjust(-1)
	}
	return nil
}
