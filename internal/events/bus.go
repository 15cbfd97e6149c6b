package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler reacts to an event. Errors are logged by the bus.
type Handler func(ctx context.Context, ev Event) error

// Publisher forwards events out of the process.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Recorder observes publish outcomes.
type Recorder interface {
	RecordEvent(eventType, status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string) {}

type subscription struct {
	name    string
	handler Handler
}

// Bus delivers events to subscribed handlers asynchronously and forwards
// them to an optional Publisher.
type Bus struct {
	mu       sync.RWMutex
	subs     map[Type][]subscription
	forward  Publisher
	logger   *slog.Logger
	recorder Recorder
	timeout  time.Duration
	wg       sync.WaitGroup
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithPublisher forwards every event to p before local delivery.
func WithPublisher(p Publisher) BusOption {
	return func(b *Bus) { b.forward = p }
}

// WithBusLogger sets the logger.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithBusRecorder sets the metrics recorder.
func WithBusRecorder(r Recorder) BusOption {
	return func(b *Bus) { b.recorder = r }
}

// WithHandlerTimeout bounds each handler invocation. Default 2 minutes.
func WithHandlerTimeout(d time.Duration) BusOption {
	return func(b *Bus) { b.timeout = d }
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:     make(map[Type][]subscription),
		logger:   slog.Default(),
		recorder: nopRecorder{},
		timeout:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], subscription{name: name, handler: h})
}

// Publish forwards ev and starts its handlers. It does not wait for them.
// Forwarding failures are logged and never returned to the caller.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b.forward != nil {
		if err := b.forward.Publish(ctx, ev); err != nil {
			b.recorder.RecordEvent(string(ev.Type), "error")
			b.logger.Warn("event publish failed", "type", ev.Type, "session_id", ev.SessionID, "error", err)
		} else {
			b.recorder.RecordEvent(string(ev.Type), "ok")
		}
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()

	// Handlers outlive the request that raised the event.
	base := context.WithoutCancel(ctx)
	for _, s := range subs {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			hctx, cancel := context.WithTimeout(base, b.timeout)
			defer cancel()
			if err := s.handler(hctx, ev); err != nil {
				b.logger.Warn("event handler failed", "handler", s.name, "type", ev.Type, "session_id", ev.SessionID, "error", err)
			}
		}()
	}
}

// Wait blocks until all started handlers have returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// CollectorPublisher records published events in memory for testing.
type CollectorPublisher struct {
	mu     sync.Mutex
	Events []Event
	Err    error
}

// Publish appends the event.
func (c *CollectorPublisher) Publish(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, ev)
	return c.Err
}

// Published returns a copy of the recorded events.
func (c *CollectorPublisher) Published() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.Events...)
}
