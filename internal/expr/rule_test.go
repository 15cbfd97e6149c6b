package expr

import (
	"testing"
	"time"
)

const businessHours = `weekday not in ["Sat", "Sun"] && hour >= 9 && (end_hour < 18 || (end_hour == 18 && end_minute == 0)) && lead_minutes >= 60`

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr bool
	}{
		{"business hours", businessHours, false},
		{"empty", "", true},
		{"syntax", "hour >= ", true},
		{"unknown field", "room == 'a'", true},
		{"not boolean", "hour + 1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.source)
			if (err != nil) != tt.wantErr {
				t.Errorf("Compile(%q) error = %v, wantErr %v", tt.source, err, tt.wantErr)
			}
		})
	}
}

func TestRuleAllows(t *testing.T) {
	rule, err := Compile(businessHours)
	if err != nil {
		t.Fatal(err)
	}
	lisbon, err := time.LoadLocation("Europe/Lisbon")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Monday 2025-03-03 08:00 UTC.
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		dur   time.Duration
		want  bool
	}{
		{"monday morning", time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), 30 * time.Minute, true},
		{"ends at six", time.Date(2025, 3, 3, 17, 30, 0, 0, time.UTC), 30 * time.Minute, true},
		{"runs past six", time.Date(2025, 3, 3, 17, 45, 0, 0, time.UTC), 30 * time.Minute, false},
		{"too soon", time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC), 30 * time.Minute, false},
		{"saturday", time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC), 30 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rule.Allows(NewSlot(tt.start, tt.dur, "a@example.com", now, lisbon))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Allows = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNilRuleAllows(t *testing.T) {
	var r *Rule
	ok, err := r.Allows(Slot{})
	if err != nil || !ok {
		t.Errorf("nil rule Allows = %v, %v", ok, err)
	}
}

func TestNewSlot(t *testing.T) {
	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	s := NewSlot(time.Date(2025, 3, 3, 9, 15, 0, 0, time.UTC), 45*time.Minute, "x@example.com", now, nil)
	want := Slot{Weekday: "Mon", Hour: 9, Minute: 15, EndHour: 10, EndMinute: 0, Duration: 45, LeadMinutes: 75, Email: "x@example.com"}
	if s != want {
		t.Errorf("NewSlot = %+v, want %+v", s, want)
	}
}
