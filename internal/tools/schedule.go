package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/szaher/minime/internal/calendar"
	"github.com/szaher/minime/internal/expr"
	"github.com/szaher/minime/internal/llm"
)

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parseTime accepts RFC 3339 or a zone-less timestamp interpreted in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

// ScheduleMeeting books a meeting with the persona's owner.
type ScheduleMeeting struct {
	calendar calendar.Scheduler
	rule     *expr.Rule
	loc      *time.Location
	owner    string
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduleMeeting creates the tool. rule may be nil to accept any slot;
// loc is the calendar's time zone, used for zone-less times and for the rule.
func NewScheduleMeeting(cal calendar.Scheduler, rule *expr.Rule, loc *time.Location, owner string, logger *slog.Logger) *ScheduleMeeting {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleMeeting{calendar: cal, rule: rule, loc: loc, owner: owner, logger: logger, now: time.Now}
}

func (t *ScheduleMeeting) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "schedule_meeting",
		Description: "Schedule a meeting on the calendar and invite the user. Returns a link to the event.",
		InputSchema: schema([]string{"start_time", "summary", "email"}, map[string]interface{}{
			"start_time":       prop("string", "Meeting start as ISO-8601, e.g. 2025-08-11T14:00:00Z"),
			"duration_minutes": prop("integer", "Meeting length in minutes (default 30)"),
			"summary":          prop("string", "Meeting title"),
			"email":            prop("string", "Attendee email address"),
		}),
	}
}

// FailureMessage is the reply when booking fails.
func (t *ScheduleMeeting) FailureMessage() string {
	return fmt.Sprintf("Sorry, something went wrong while scheduling the meeting. Please contact the real %s to arrange it.", t.owner)
}

func (t *ScheduleMeeting) fail(sessionID string, err error) error {
	t.logger.Error("failed to schedule meeting", "session_id", sessionID, "error", err)
	return &UserFacingError{Message: t.FailureMessage(), Err: err}
}

func (t *ScheduleMeeting) Invoke(ctx context.Context, inv Invocation) (string, error) {
	start, err := parseTime(stringArg(inv.Input, "start_time"), t.loc)
	if err != nil {
		return "", t.fail(inv.SessionID, err)
	}
	minutes, err := intArg(inv.Input, "duration_minutes", 30)
	if err != nil {
		return "", t.fail(inv.SessionID, err)
	}
	if minutes <= 0 {
		minutes = 30
	}
	duration := time.Duration(minutes) * time.Minute
	email := stringArg(inv.Input, "email")

	ok, err := t.rule.Allows(expr.NewSlot(start, duration, email, t.now(), t.loc))
	if err != nil {
		return "", t.fail(inv.SessionID, err)
	}
	if !ok {
		t.logger.Info("meeting slot rejected by availability rule", "session_id", inv.SessionID, "start", start)
		return "UNAVAILABLE: the requested slot is outside available hours. Ask the user for another time.", nil
	}

	link, err := t.calendar.Schedule(ctx, calendar.Meeting{
		Start:    start,
		Duration: duration,
		Summary:  stringArg(inv.Input, "summary"),
		Attendee: email,
	})
	if err != nil {
		return "", t.fail(inv.SessionID, err)
	}
	return link, nil
}
