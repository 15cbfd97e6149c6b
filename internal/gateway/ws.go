package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/szaher/minime/internal/auth"
	"github.com/szaher/minime/internal/session"
	"github.com/szaher/minime/internal/telemetry"
)

// WebSocket operations sent to the client.
const (
	OpSession      = "session"
	OpMessageChunk = "message_chunk"
	OpFinish       = "finish"
	OpError        = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 << 10
)

type inbound struct {
	Message string `json:"message"`
}

type outbound struct {
	Op        string `json:"op"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// goAway sends a going-away close frame and closes the connection, which
// ends the read loop.
func (c *wsConn) goAway() {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket serves one chat connection. The session starts on connect
// and ends on disconnect; each inbound message runs one turn.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = session.GenerateID()
	} else if !session.ValidID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_session", invalidSessionMessage)
		return
	}
	ip := auth.ClientIP(r)

	if !s.beginConn() {
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
		return
	}
	defer s.conns.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "ip", ip)
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	if !s.track(c) {
		c.goAway()
		return
	}
	defer s.untrack(c)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	logger := s.logger.With("session_id", sessionID, "ip", ip)

	if _, _, err := s.sessions.Start(ctx, sessionID, ip); err != nil {
		logger.Error("start session", "error", err)
		_ = c.send(outbound{Op: OpError, Message: GenericErrorMessage()})
		return
	}
	defer func() {
		if err := s.sessions.End(context.WithoutCancel(ctx), sessionID); err != nil {
			logger.Warn("end session", "error", err)
		}
	}()
	_ = c.send(outbound{Op: OpSession, SessionID: sessionID})

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var turns sync.WaitGroup
	stopPing := make(chan struct{})
	go s.keepalive(c, stopPing)

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			if !s.shuttingDown() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		message := strings.TrimSpace(in.Message)
		if message == "" {
			_ = c.send(outbound{Op: OpError, Message: "Say something and I'll answer."})
			continue
		}
		if !s.limiter.Allow(ip) {
			_ = c.send(outbound{Op: OpError, Message: s.rateLimited()})
			continue
		}
		if !s.sessions.Acquire(sessionID) {
			_ = c.send(outbound{Op: OpError, Message: busyMessage})
			continue
		}

		turns.Add(1)
		go func() {
			defer turns.Done()
			defer s.sessions.Release(sessionID)
			s.runTurn(telemetry.WithCorrelationID(ctx, session.GenerateID()), c, sessionID, message)
		}()
	}

	// A turn in flight finishes and is saved even though the client left.
	close(stopPing)
	turns.Wait()
}

func (s *Server) runTurn(ctx context.Context, c *wsConn, sessionID, message string) {
	logger := telemetry.SessionLogger(s.logger, ctx, sessionID)
	if err := s.sessions.Touch(ctx, sessionID); err != nil {
		logger.Warn("touch session", "error", err)
	}

	_, err := s.chat.Chat(ctx, sessionID, message, func(text string) {
		_ = c.send(outbound{Op: OpMessageChunk, Content: text})
	})
	if err != nil {
		logger.Error("chat turn failed", "error", err)
		_ = c.send(outbound{Op: OpError, Message: GenericErrorMessage()})
		return
	}
	_ = c.send(outbound{Op: OpFinish})
}

func (s *Server) keepalive(c *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
