// Package agent runs one chat turn: it opens the session memory, builds the
// prompt, drives the model and its tools, and saves the completed turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
	"github.com/szaher/minime/internal/telemetry"
	"github.com/szaher/minime/internal/tools"
)

// MemoryOpener opens the memory manager for a session. memory.Opener
// satisfies it.
type MemoryOpener interface {
	Open(ctx context.Context, sessionID string) (*memory.Manager, error)
}

// Recorder observes finished turns. *telemetry.Metrics satisfies it.
type Recorder interface {
	RecordTurn(status string, duration time.Duration, inputTokens, outputTokens int)
}

type nopRecorder struct{}

func (nopRecorder) RecordTurn(string, time.Duration, int, int) {}

// ChunkFunc receives streamed reply text.
type ChunkFunc func(text string)

// Config holds the chat model settings.
type Config struct {
	Model        string
	MaxTokens    int
	Temperature  *float64
	TopP         *float64
	MaxToolTurns int
	Persona      string
}

// Result describes a completed turn.
type Result struct {
	Reply     string
	Turns     int
	Usage     llm.TokenUsage
	ToolCalls []ToolCallRecord
	Duration  time.Duration
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithRecorder sets the turn metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// Agent orchestrates chat turns.
type Agent struct {
	client   llm.Client
	memory   MemoryOpener
	tools    *tools.Registry
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time

	mu  sync.RWMutex
	cfg Config
}

// New creates an agent.
func New(client llm.Client, opener MemoryOpener, registry *tools.Registry, cfg Config, opts ...Option) *Agent {
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	a := &Agent{
		client:   client,
		memory:   opener,
		tools:    registry,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer("github.com/szaher/minime/internal/agent"),
		now:      time.Now,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetPersona replaces the persona prompt for subsequent turns.
func (a *Agent) SetPersona(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Persona = prompt
}

func (a *Agent) config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Chat runs one turn for sessionID. Reply text is streamed to onChunk as it
// is produced. The turn is saved to memory exactly once, after the reply is
// complete; nothing is saved when the turn fails.
//
// The caller must not run two turns on the same session concurrently.
func (a *Agent) Chat(ctx context.Context, sessionID, message string, onChunk ChunkFunc) (*Result, error) {
	start := a.now()
	cfg := a.config()
	if onChunk == nil {
		onChunk = func(string) {}
	}
	logger := telemetry.SessionLogger(a.logger, ctx, sessionID)

	ctx, span := a.tracer.Start(ctx, "agent.Chat", trace.WithAttributes(telemetry.TurnAttributes(sessionID, cfg.Model)...))
	defer span.End()

	mgr, err := a.memory.Open(ctx, sessionID)
	if err != nil {
		return nil, a.failed(span, start, fmt.Errorf("open memory: %w", err))
	}
	snap := mgr.Memory()

	inv := invocation{
		sessionID: sessionID,
		snapshot:  snap,
		system:    SystemPrompt(a.now(), snap.Summary, cfg.Persona),
		messages:  BuildMessages(snap, message),
	}
	res, err := a.react(ctx, cfg, inv, onChunk)

	var ufe *tools.UserFacingError
	switch {
	case errors.As(err, &ufe):
		logger.Warn("turn ended by tool failure", "error", ufe.Err)
		onChunk(ufe.Message)
		res.Reply = ufe.Message
	case err != nil:
		return nil, a.failed(span, start, err)
	}

	if err := mgr.SaveTurn(ctx, message, res.Reply); err != nil {
		return nil, a.failed(span, start, fmt.Errorf("save turn: %w", err))
	}

	res.Duration = a.now().Sub(start)
	a.recorder.RecordTurn("ok", res.Duration, res.Usage.InputTokens, res.Usage.OutputTokens)
	logger.Info("turn complete",
		"turns", res.Turns,
		"tool_calls", len(res.ToolCalls),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"duration", res.Duration,
	)
	return res, nil
}

func (a *Agent) failed(span trace.Span, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	a.recorder.RecordTurn("error", a.now().Sub(start), 0, 0)
	return err
}
