package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/store"
)

// Recorder receives memory events for metrics.
type Recorder interface {
	RollupFolded(messages int)
	RollupFailed()
	WindowObserved(messages, tokens int)
}

type nopRecorder struct{}

func (nopRecorder) RollupFolded(int)        {}
func (nopRecorder) RollupFailed()           {}
func (nopRecorder) WindowObserved(int, int) {}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the window thresholds.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets the logger for rollup warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// Manager holds one session's working window and running summary.
//
// A Manager is not safe for concurrent use, and two Managers for the same
// session must not run SaveTurn at the same time: callers allow at most one
// in-flight turn per session.
type Manager struct {
	sessionID  string
	store      store.Store
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger
	recorder   Recorder
	tracer     trace.Tracer

	summary string
	window  []store.Message
}

// Open loads the session's summary and rebuilds the working window from the
// durable log.
func Open(ctx context.Context, sessionID string, st store.Store, summarizer Summarizer, opts ...Option) (*Manager, error) {
	m := &Manager{
		sessionID:  sessionID,
		store:      st,
		summarizer: summarizer,
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
		recorder:   nopRecorder{},
		tracer:     otel.Tracer("github.com/szaher/minime/internal/memory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	m.logger = m.logger.With("session_id", sessionID)

	ctx, span := m.tracer.Start(ctx, "memory.Open", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	summary, err := st.GetSummary(ctx, sessionID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("load summary: %w", err))
	}
	log, err := st.GetConversation(ctx, sessionID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("load conversation: %w", err))
	}

	m.summary = summary
	m.window = newestSuffix(log, m.cfg.MaxWindowTokens)
	span.SetAttributes(
		attribute.Int("memory.log_messages", len(log)),
		attribute.Int("memory.window_messages", len(m.window)),
	)
	m.recorder.WindowObserved(len(m.window), WindowTokens(m.window))
	return m, nil
}

// SessionID returns the session this manager serves.
func (m *Manager) SessionID() string { return m.sessionID }

// Memory returns a snapshot of the summary and the working window.
func (m *Manager) Memory() Snapshot {
	conv := make([]Entry, len(m.window))
	for i, msg := range m.window {
		conv[i] = Entry{Role: msg.Role, Message: msg.Content}
	}
	return Snapshot{Summary: m.summary, Conversation: conv}
}

// WindowTokens returns the estimated size of the working window.
func (m *Manager) WindowTokens() int { return WindowTokens(m.window) }

// SaveTurn persists a completed turn, trims the window, folds the oldest
// messages into the summary while the window is above the trigger, and
// stores the summary.
//
// Store failures are returned. If the assistant message fails after the user
// message was written, the user message stays in the log and in the window.
// Summarization failures are logged and never returned.
func (m *Manager) SaveTurn(ctx context.Context, userMsg, assistantMsg string) error {
	ctx, span := m.tracer.Start(ctx, "memory.SaveTurn", trace.WithAttributes(attribute.String("session.id", m.sessionID)))
	defer span.End()

	user, err := m.store.AddMessage(ctx, m.sessionID, llm.RoleUser, userMsg)
	if err != nil {
		return fail(span, fmt.Errorf("save user message: %w", err))
	}
	m.append(user)

	assistant, err := m.store.AddMessage(ctx, m.sessionID, llm.RoleAssistant, assistantMsg)
	if err != nil {
		return fail(span, fmt.Errorf("save assistant message: %w", err))
	}
	m.append(assistant)

	for len(m.window) > 0 && WindowTokens(m.window) > m.cfg.SummaryTriggerTokens {
		m.rollup(ctx)
	}
	m.recorder.WindowObserved(len(m.window), WindowTokens(m.window))

	if err := m.store.SaveSummary(ctx, m.sessionID, m.summary); err != nil {
		return fail(span, fmt.Errorf("save summary: %w", err))
	}
	return nil
}

func (m *Manager) append(msg store.Message) {
	m.window = trimFront(append(m.window, msg), m.cfg.MaxWindowTokens)
}

// rollup folds the oldest quarter of the window (at least one message) into
// the summary. The folded messages leave the window even when summarization
// fails.
func (m *Manager) rollup(ctx context.Context) {
	if len(m.window) == 0 {
		return
	}
	cut := max(1, len(m.window)/4)
	folded := make([]Entry, cut)
	for i, msg := range m.window[:cut] {
		folded[i] = Entry{Role: msg.Role, Message: msg.Content}
	}
	rest := make([]store.Message, len(m.window)-cut)
	copy(rest, m.window[cut:])
	m.window = rest

	ctx, span := m.tracer.Start(ctx, "memory.rollup", trace.WithAttributes(attribute.Int("memory.folded", cut)))
	defer span.End()

	fragment, err := m.summarizer.Summarize(ctx, folded)
	if err == nil && strings.TrimSpace(fragment) == "" {
		err = fmt.Errorf("empty summary")
	}
	if err != nil {
		span.RecordError(err)
		m.recorder.RollupFailed()
		m.logger.Warn("summary generation failed, keeping previous summary",
			"folded", cut,
			"error", err,
		)
		return
	}

	fragment = strings.TrimSpace(fragment)
	if m.summary == "" {
		m.summary = fragment
	} else {
		m.summary = m.summary + "\n" + fragment
	}
	m.recorder.RollupFolded(cut)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Opener opens managers with shared dependencies.
type Opener struct {
	Store      store.Store
	Summarizer Summarizer
	Options    []Option
}

// Open opens a Manager for sessionID.
func (o Opener) Open(ctx context.Context, sessionID string) (*Manager, error) {
	return Open(ctx, sessionID, o.Store, o.Summarizer, o.Options...)
}
