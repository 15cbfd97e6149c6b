// Package expr compiles and evaluates the meeting availability rule, a
// boolean expression over the requested slot such as
//
//	weekday not in ["Sat", "Sun"] && hour >= 9 && end_hour <= 18 && lead_minutes >= 60
package expr

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Slot is the environment a rule is evaluated against. Times are in the
// calendar's time zone.
type Slot struct {
	Weekday     string `expr:"weekday"`
	Hour        int    `expr:"hour"`
	Minute      int    `expr:"minute"`
	EndHour     int    `expr:"end_hour"`
	EndMinute   int    `expr:"end_minute"`
	Duration    int    `expr:"duration"`
	LeadMinutes int    `expr:"lead_minutes"`
	Email       string `expr:"email"`
}

// NewSlot describes a meeting starting at start, converted to loc.
func NewSlot(start time.Time, duration time.Duration, email string, now time.Time, loc *time.Location) Slot {
	if loc == nil {
		loc = time.UTC
	}
	s := start.In(loc)
	e := s.Add(duration)
	return Slot{
		Weekday:     s.Weekday().String()[:3],
		Hour:        s.Hour(),
		Minute:      s.Minute(),
		EndHour:     e.Hour(),
		EndMinute:   e.Minute(),
		Duration:    int(duration / time.Minute),
		LeadMinutes: int(start.Sub(now) / time.Minute),
		Email:       email,
	}
}

// Rule is a compiled availability rule.
type Rule struct {
	Source  string
	program *vm.Program
}

// Compile type-checks source against Slot and requires a boolean result.
func Compile(source string) (*Rule, error) {
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(source, expr.Env(Slot{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}

	return &Rule{
		Source:  source,
		program: program,
	}, nil
}

// Allows reports whether the slot satisfies the rule. A nil rule allows
// everything.
func (r *Rule) Allows(slot Slot) (bool, error) {
	if r == nil {
		return true, nil
	}
	result, err := expr.Run(r.program, slot)
	if err != nil {
		return false, fmt.Errorf("expression eval error for %q: %w", r.Source, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, expected bool", r.Source, result)
	}
	return b, nil
}
