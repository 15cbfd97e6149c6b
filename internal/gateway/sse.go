package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter wraps an http.ResponseWriter for SSE streaming.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer, setting appropriate headers.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends a named SSE event.
func (s *SSEWriter) WriteEvent(event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteToken sends a streaming token event.
func (s *SSEWriter) WriteToken(token string) error {
	return s.WriteEvent("token", map[string]string{"content": token})
}

// WriteDone sends the done event, signaling the stream is complete.
func (s *SSEWriter) WriteDone(data interface{}) error {
	return s.WriteEvent("done", data)
}

// WriteError sends an error event.
func (s *SSEWriter) WriteError(message string) error {
	return s.WriteEvent("error", map[string]string{"message": message})
}
