// Package calendar books meetings on Google Calendar using a service account.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// ErrNotConfigured is returned when no service account is available.
var ErrNotConfigured = errors.New("google calendar credentials not configured")

// Meeting is a meeting request.
type Meeting struct {
	Start    time.Time
	Duration time.Duration
	Summary  string
	Attendee string
}

// Scheduler books meetings and returns a link to the created event.
type Scheduler interface {
	Schedule(ctx context.Context, m Meeting) (string, error)
}

// Unconfigured is the Scheduler used when no credentials are available.
// Every booking fails with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) Schedule(context.Context, Meeting) (string, error) {
	return "", ErrNotConfigured
}

// GoogleCalendar inserts events through the Calendar v3 API.
type GoogleCalendar struct {
	events     *gcal.EventsService
	calendarID string
}

// LoadCredentials accepts either inline service account JSON or a path to it.
func LoadCredentials(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrNotConfigured
	}
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("reading service account: %w", err)
	}
	return data, nil
}

// NewGoogleCalendar authenticates as the service account, impersonating
// subject when it is set, and books on calendarID.
func NewGoogleCalendar(ctx context.Context, credentials []byte, subject, calendarID string) (*GoogleCalendar, error) {
	var sa struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(credentials, &sa); err != nil {
		return nil, fmt.Errorf("parsing service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, ErrNotConfigured
	}

	auth := option.WithCredentialsJSON(credentials)
	if subject != "" {
		conf, err := google.JWTConfigFromJSON(credentials, gcal.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("parsing service account: %w", err)
		}
		conf.Subject = subject
		auth = option.WithTokenSource(conf.TokenSource(ctx))
	}
	return newGoogleCalendar(ctx, calendarID, auth, option.WithScopes(gcal.CalendarScope))
}

func newGoogleCalendar(ctx context.Context, calendarID string, opts ...option.ClientOption) (*GoogleCalendar, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{events: svc.Events, calendarID: calendarID}, nil
}

// Schedule creates the event, notifies attendees and returns its HTML link.
func (g *GoogleCalendar) Schedule(ctx context.Context, m Meeting) (string, error) {
	start := m.Start.UTC()
	event := &gcal.Event{
		Summary: m.Summary,
		Start:   &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: "UTC"},
		End:     &gcal.EventDateTime{DateTime: start.Add(m.Duration).Format(time.RFC3339), TimeZone: "UTC"},
	}
	if m.Attendee != "" {
		event.Attendees = []*gcal.EventAttendee{{Email: m.Attendee}}
	}

	created, err := g.events.Insert(g.calendarID, event).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.HtmlLink, nil
}
