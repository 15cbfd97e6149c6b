package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/szaher/minime/internal/llm"
)

func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone: %s", name)
	}
	return loc, nil
}

// CurrentTime reports the current time in a time zone.
type CurrentTime struct {
	now func() time.Time
}

// NewCurrentTime creates the tool.
func NewCurrentTime() *CurrentTime {
	return &CurrentTime{now: time.Now}
}

func (t *CurrentTime) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "get_current_time",
		Description: "Get the current datetime in a timezone. Args: timezone (IANA, optional; default=UTC). Returns ISO-8601.",
		InputSchema: schema(nil, map[string]interface{}{
			"timezone": prop("string", "IANA timezone like 'Europe/Lisbon'"),
		}),
	}
}

func (t *CurrentTime) Invoke(_ context.Context, inv Invocation) (string, error) {
	loc, err := loadZone(stringArg(inv.Input, "timezone"))
	if err != nil {
		return "", err
	}
	return t.now().In(loc).Format(time.RFC3339), nil
}

// ConvertTime converts a timestamp between time zones.
type ConvertTime struct{}

// NewConvertTime creates the tool.
func NewConvertTime() *ConvertTime { return &ConvertTime{} }

func (t *ConvertTime) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "convert_time",
		Description: "Convert an ISO-8601 datetime from one timezone to another. Args: datetime_iso, from_tz, to_tz. Returns ISO-8601.",
		InputSchema: schema([]string{"datetime_iso", "from_tz", "to_tz"}, map[string]interface{}{
			"datetime_iso": prop("string", "ISO-8601 input, e.g., 2025-08-11T14:00:00Z"),
			"from_tz":      prop("string", "Source IANA timezone"),
			"to_tz":        prop("string", "Target IANA timezone"),
		}),
	}
}

// Invoke interprets a zone-less input in from_tz; an input with an offset
// keeps its instant.
func (t *ConvertTime) Invoke(_ context.Context, inv Invocation) (string, error) {
	src, err := loadZone(stringArg(inv.Input, "from_tz"))
	if err != nil {
		return "", err
	}
	dst, err := loadZone(stringArg(inv.Input, "to_tz"))
	if err != nil {
		return "", err
	}
	ts, err := parseTime(stringArg(inv.Input, "datetime_iso"), src)
	if err != nil {
		return "", err
	}
	return ts.In(dst).Format(time.RFC3339), nil
}
