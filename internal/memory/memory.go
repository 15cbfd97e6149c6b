// Package memory implements the session memory manager: a token-bounded
// working window over the durable conversation log plus a running summary of
// everything that has been folded out of that window.
//
// The durable log is the source of truth. The window is rebuilt from it on
// Open and kept in sync by SaveTurn. Folding is lossy: once messages leave the
// window their text only survives in the summary and in the log itself.
package memory

import (
	"errors"
	"fmt"

	"github.com/szaher/minime/internal/llm"
)

// Default thresholds, in estimated tokens.
const (
	DefaultMaxWindowTokens      = 3000
	DefaultSummaryTriggerTokens = 1500
)

// ErrInvalidConfig is returned for thresholds that would make the rollup
// loop thrash or never run.
var ErrInvalidConfig = errors.New("invalid memory config")

// Config holds the window thresholds.
type Config struct {
	// MaxWindowTokens caps the estimated size of the working window.
	MaxWindowTokens int `yaml:"max_window_tokens"`
	// SummaryTriggerTokens is the size above which the oldest quarter of the
	// window is folded into the summary. Must be below MaxWindowTokens.
	SummaryTriggerTokens int `yaml:"summary_trigger_tokens"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxWindowTokens:      DefaultMaxWindowTokens,
		SummaryTriggerTokens: DefaultSummaryTriggerTokens,
	}
}

// Validate checks 0 < SummaryTriggerTokens < MaxWindowTokens.
func (c Config) Validate() error {
	if c.SummaryTriggerTokens <= 0 || c.MaxWindowTokens <= 0 {
		return fmt.Errorf("%w: thresholds must be positive (max %d, trigger %d)", ErrInvalidConfig, c.MaxWindowTokens, c.SummaryTriggerTokens)
	}
	if c.SummaryTriggerTokens >= c.MaxWindowTokens {
		return fmt.Errorf("%w: summary trigger %d must be below window max %d", ErrInvalidConfig, c.SummaryTriggerTokens, c.MaxWindowTokens)
	}
	return nil
}

// Entry is one message as seen by prompt-building code.
type Entry struct {
	Role    llm.Role `json:"role"`
	Message string   `json:"message"`
}

// Snapshot is an immutable view of a session's memory. It owns its slice;
// callers may keep it after the manager changes.
type Snapshot struct {
	Summary      string  `json:"summary"`
	Conversation []Entry `json:"conversation"`
}
