// Package gateway exposes the chat agent over WebSocket and HTTP, with
// per-client rate limiting and API-key protected session administration.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/szaher/minime/internal/agent"
	"github.com/szaher/minime/internal/auth"
	"github.com/szaher/minime/internal/session"
	"github.com/szaher/minime/internal/store"
	"github.com/szaher/minime/internal/telemetry"
)

// Chatter runs one chat turn. *agent.Agent satisfies it.
type Chatter interface {
	Chat(ctx context.Context, sessionID, message string, onChunk agent.ChunkFunc) (*agent.Result, error)
}

// Server is the public HTTP and WebSocket server.
type Server struct {
	chat      Chatter
	sessions  *session.Manager
	memory    agent.MemoryOpener
	store     store.Store
	limiter   *auth.RateLimiter
	metrics   http.Handler
	onLimited func()
	apiKey    string
	origins   []string
	version   string
	logger    *slog.Logger
	startTime time.Time

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	conns    sync.WaitGroup

	mu     sync.Mutex
	server *http.Server
	live   map[*wsConn]struct{}
	closed bool
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithAPIKey sets the API key for the session administration routes.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithRateLimiter replaces the default per-IP limiter.
func WithRateLimiter(rl *auth.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithMetrics mounts handler at /metrics. onLimited, when non-nil, is called
// for every rate-limited message.
func WithMetrics(handler http.Handler, onLimited func()) ServerOption {
	return func(s *Server) {
		s.metrics = handler
		s.onLimited = onLimited
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins.
// An empty list accepts any origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.origins = origins }
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates the gateway.
func NewServer(chat Chatter, sessions *session.Manager, opener agent.MemoryOpener, st store.Store, opts ...ServerOption) *Server {
	s := &Server{
		chat:      chat,
		sessions:  sessions,
		memory:    opener,
		store:     st,
		limiter:   auth.NewRateLimiter(auth.DefaultRateLimitConfig()),
		version:   "dev",
		logger:    slog.Default(),
		startTime: time.Now(),
		live:      make(map[*wsConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	admin := auth.Middleware(s.apiKey, s.limiter)
	limited := s.limiter.Middleware(auth.ClientIP, s.rateLimited)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("POST /v1/chat", limited(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /v1/sessions/{id}/memory", admin(http.HandlerFunc(s.handleMemory)))
	mux.Handle("GET /v1/sessions/{id}/messages", admin(http.HandlerFunc(s.handleMessages)))
	mux.Handle("DELETE /v1/sessions/{id}", admin(http.HandlerFunc(s.handleClear)))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SetRateLimits applies new limits to current and future clients.
func (s *Server) SetRateLimits(cfg auth.RateLimitConfig) {
	s.limiter.SetLimits(cfg)
	s.logger.Info("rate limits updated", "per_minute", cfg.PerMinute, "burst", cfg.Burst)
}

// EvictIdleClients drops rate-limit state for clients not seen for idle.
func (s *Server) EvictIdleClients(idle time.Duration) {
	if n := s.limiter.Evict(idle); n > 0 {
		s.logger.Debug("evicted idle rate-limit buckets", "count", n)
	}
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.New("gateway already started")
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("gateway starting", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, sends a going-away close frame to every
// WebSocket client and waits for their in-flight turns to be saved.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	live := make([]*wsConn, 0, len(s.live))
	for c := range s.live {
		live = append(live, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	// http.Server.Shutdown does not track hijacked connections.
	for _, c := range live {
		c.goAway()
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// beginConn reserves a slot for a new WebSocket connection. It fails once
// Shutdown has started.
func (s *Server) beginConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns.Add(1)
	return true
}

// track registers c for Shutdown. It fails once Shutdown has started.
func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.live[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, c)
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) rateLimited() string {
	if s.onLimited != nil {
		s.onLimited()
	}
	return RateLimitMessage()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  time.Since(s.startTime).String(),
		"version": s.version,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message must not be empty")
		return
	}
	if req.SessionID != "" && !session.ValidID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid_session", invalidSessionMessage)
		return
	}

	ctx := telemetry.WithCorrelationID(r.Context(), session.GenerateID())
	sess, _, err := s.sessions.Start(ctx, req.SessionID, auth.ClientIP(r))
	if err != nil {
		s.logger.Error("start session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", GenericErrorMessage())
		return
	}
	if !s.sessions.Acquire(sess.ID) {
		writeError(w, http.StatusConflict, "busy", busyMessage)
		return
	}
	defer s.sessions.Release(sess.ID)

	sse, err := NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	res, err := s.chat.Chat(ctx, sess.ID, req.Message, func(text string) {
		_ = sse.WriteToken(text)
	})
	if err != nil {
		telemetry.SessionLogger(s.logger, ctx, sess.ID).Error("chat turn failed", "error", err)
		_ = sse.WriteError(GenericErrorMessage())
		return
	}
	_ = sse.WriteDone(map[string]interface{}{
		"session_id": sess.ID,
		"message":    res.Reply,
		"tokens": map[string]interface{}{
			"input":  res.Usage.InputTokens,
			"output": res.Usage.OutputTokens,
			"total":  res.Usage.Total(),
		},
		"turns":       res.Turns,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	mgr, err := s.memory.Open(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	info, err := s.store.GetUserInfo(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    id,
		"memory":        mgr.Memory(),
		"window_tokens": mgr.WindowTokens(),
		"user_info":     info,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"messages":   msgs,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id, ok := pathSessionID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Clear(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathSessionID returns the {id} path value, answering 400 when it is not a
// valid session id.
func pathSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !session.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid_session", invalidSessionMessage)
		return "", false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	s.logger.Error("store request failed", "error", err)
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "conversation store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
