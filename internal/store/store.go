// Package store defines the durable conversation store used by the memory
// manager and its backends.
//
// Every session owns one partition. Items inside the partition are addressed
// by a discriminator: "MSG#<ulid>" for chat messages, "SUMMARY" for the
// running summary and "META" for the visitor profile.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/szaher/minime/internal/llm"
)

// Item discriminators shared by all backends.
const (
	MessagePrefix = "MSG#"
	SummaryKey    = "SUMMARY"
	ProfileKey    = "META"
)

// ErrUnavailable is matched by every backend failure.
var ErrUnavailable = errors.New("conversation store unavailable")

// Message is one persisted chat message.
type Message struct {
	SessionID string    `json:"session_id"`
	ID        string    `json:"id"`
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UserInfo is the visitor profile kept beside a conversation.
// A nil field means "not provided".
type UserInfo struct {
	Name       *string `json:"name,omitempty"`
	Company    *string `json:"company,omitempty"`
	Role       *string `json:"role,omitempty"`
	IP         *string `json:"ip,omitempty"`
	Country    *string `json:"country,omitempty"`
	City       *string `json:"city,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
	TimeZone   *string `json:"time_zone,omitempty"`
}

// Merge overlays the non-nil fields of patch onto u.
func (u *UserInfo) Merge(patch UserInfo) {
	set := func(dst **string, src *string) {
		if src != nil {
			v := *src
			*dst = &v
		}
	}
	set(&u.Name, patch.Name)
	set(&u.Company, patch.Company)
	set(&u.Role, patch.Role)
	set(&u.IP, patch.IP)
	set(&u.Country, patch.Country)
	set(&u.City, patch.City)
	set(&u.PostalCode, patch.PostalCode)
	set(&u.TimeZone, patch.TimeZone)
}

// IsZero reports whether no field is set.
func (u UserInfo) IsZero() bool {
	return u == UserInfo{}
}

// Ptr returns a pointer to s.
func Ptr(s string) *string { return &s }

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Store is the durable conversation store contract.
type Store interface {
	// AddMessage appends a message to the session log and returns it with its
	// assigned id and timestamp.
	AddMessage(ctx context.Context, sessionID string, role llm.Role, content string) (Message, error)

	// GetConversation returns all messages of a session in creation order.
	GetConversation(ctx context.Context, sessionID string) ([]Message, error)

	// GetSummary returns the running summary, or "" when none is stored.
	GetSummary(ctx context.Context, sessionID string) (string, error)

	// SaveSummary replaces the running summary.
	SaveSummary(ctx context.Context, sessionID, text string) error

	// GetUserInfo returns the stored profile, or nil when none exists.
	GetUserInfo(ctx context.Context, sessionID string) (*UserInfo, error)

	// SaveUserInfo merges the non-nil fields of info into the stored profile.
	SaveUserInfo(ctx context.Context, sessionID string, info UserInfo) error

	// ClearConversation deletes every item of the session.
	ClearConversation(ctx context.Context, sessionID string) error
}

// OpError records a failed backend operation.
type OpError struct {
	Backend string
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is makes every OpError match ErrUnavailable.
func (e *OpError) Is(target error) bool { return target == ErrUnavailable }

func opErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Backend: backend, Op: op, Err: err}
}

// NewMessageID returns a lexically sortable message id. Ids created by the
// same process are strictly increasing.
func NewMessageID() string {
	return ulid.Make().String()
}

// MessageKey returns the discriminator for a message id.
func MessageKey(id string) string { return MessagePrefix + id }

// IsMessageKey reports whether key addresses a chat message.
func IsMessageKey(key string) bool { return strings.HasPrefix(key, MessagePrefix) }

// MessageIDFromKey strips the message prefix.
func MessageIDFromKey(key string) string { return strings.TrimPrefix(key, MessagePrefix) }

// TimeFromID extracts the creation time encoded in a message id. It returns the
// zero time for ids that are not ULIDs.
func TimeFromID(id string) time.Time {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time()).UTC()
}
