// Package events defines the conversation lifecycle events and the bus that
// fans them out to in-process handlers and, optionally, Amazon EventBridge.
package events

import (
	"encoding/json"
	"time"
)

// Type is the event detail-type.
type Type string

const (
	ConversationStarted Type = "ConversationStart"
	ConversationEnded   Type = "ConversationEnded"
)

// Source is the EventBridge source of every event.
const Source = "minime.chat"

// Event is a lifecycle notification for one session.
type Event struct {
	Type      Type      `json:"-"`
	SessionID string    `json:"session_id"`
	IP        string    `json:"ip,omitempty"`
	Timestamp time.Time `json:"-"`
}

// New creates an event stamped with the current time.
func New(eventType Type, sessionID, ip string) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		IP:        ip,
		Timestamp: time.Now().UTC(),
	}
}

// Detail returns the event payload as JSON.
func (e Event) Detail() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
