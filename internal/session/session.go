// Package session tracks live chat sessions, raises lifecycle events and
// guarantees at most one turn in flight per session.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// ErrInvalidID is returned for session ids rejected by ValidID.
var ErrInvalidID = errors.New("invalid session id")

// Session is a live conversation with one client.
type Session struct {
	ID         string    `json:"id"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Store manages session records.
type Store interface {
	// Create registers a session under id.
	Create(ctx context.Context, id, remoteIP string) (*Session, error)

	// Get retrieves a session by ID.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session by ID.
	Delete(ctx context.Context, id string) error

	// List returns all sessions.
	List(ctx context.Context) ([]*Session, error)

	// Touch updates the last active timestamp.
	Touch(ctx context.Context, id string) error
}
