package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func testCalendar(t *testing.T, srv *httptest.Server, calendarID string) *GoogleCalendar {
	t.Helper()
	cal, err := newGoogleCalendar(context.Background(), calendarID,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return cal
}

func TestScheduleSendsEvent(t *testing.T) {
	var got gcal.Event
	var sendUpdates string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/calendars/primary/events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		sendUpdates = r.URL.Query().Get("sendUpdates")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"evt1","htmlLink":"https://calendar.google.com/event?eid=evt1"}`))
	}))
	defer srv.Close()

	cal := testCalendar(t, srv, "")
	link, err := cal.Schedule(context.Background(), Meeting{
		Start:    time.Date(2025, 3, 4, 15, 0, 0, 0, time.FixedZone("WET+1", 3600)),
		Duration: 30 * time.Minute,
		Summary:  "Intro call",
		Attendee: "ana@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if link != "https://calendar.google.com/event?eid=evt1" {
		t.Errorf("link = %q", link)
	}
	if sendUpdates != "all" {
		t.Errorf("sendUpdates = %q", sendUpdates)
	}
	if got.Summary != "Intro call" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Start == nil || got.End == nil {
		t.Fatalf("missing times: %+v", got)
	}
	if got.Start.DateTime != "2025-03-04T14:00:00Z" || got.End.DateTime != "2025-03-04T14:30:00Z" || got.Start.TimeZone != "UTC" {
		t.Errorf("times = %+v / %+v", got.Start, got.End)
	}
	if len(got.Attendees) != 1 || got.Attendees[0].Email != "ana@example.com" {
		t.Errorf("attendees = %+v", got.Attendees)
	}
}

func TestScheduleErrorStatus(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
	}))
	defer srv.Close()

	cal := testCalendar(t, srv, "team@example.com")
	_, err := cal.Schedule(context.Background(), Meeting{Start: time.Now(), Duration: time.Minute})
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusForbidden {
		t.Errorf("err = %v", err)
	}
	if path != "/calendars/team@example.com/events" {
		t.Errorf("path = %q", path)
	}
}

func TestLoadCredentials(t *testing.T) {
	if _, err := LoadCredentials(" "); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("empty = %v", err)
	}
	inline, err := LoadCredentials(`{"client_email":"a"}`)
	if err != nil || string(inline) != `{"client_email":"a"}` {
		t.Errorf("inline = %s, %v", inline, err)
	}
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, []byte(`{"client_email":"b"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	fromFile, err := LoadCredentials(path)
	if err != nil || !strings.Contains(string(fromFile), `"b"`) {
		t.Errorf("file = %s, %v", fromFile, err)
	}
}

func TestNewGoogleCalendarRequiresKey(t *testing.T) {
	_, err := NewGoogleCalendar(context.Background(), []byte(`{"client_email":"svc@example.iam"}`), "", "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
	if _, err := NewGoogleCalendar(context.Background(), []byte(`not json`), "", ""); err == nil {
		t.Error("expected parse error")
	}
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Schedule(context.Background(), Meeting{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
}
