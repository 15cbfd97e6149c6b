package memory

import (
	"unicode/utf8"

	"github.com/szaher/minime/internal/store"
)

// ApproxTokens estimates the model tokens in text at four characters per
// token. It never returns less than 1.
func ApproxTokens(text string) int {
	return max(1, utf8.RuneCountInString(text)/4)
}

// WindowTokens sums ApproxTokens over the messages.
func WindowTokens(msgs []store.Message) int {
	total := 0
	for _, m := range msgs {
		total += ApproxTokens(m.Content)
	}
	return total
}

// newestSuffix returns the longest suffix of log whose estimated size fits in
// limit, scanning from the newest message back.
func newestSuffix(log []store.Message, limit int) []store.Message {
	total := 0
	start := len(log)
	for i := len(log) - 1; i >= 0; i-- {
		cost := ApproxTokens(log[i].Content)
		if total+cost > limit {
			break
		}
		total += cost
		start = i
	}
	out := make([]store.Message, len(log)-start)
	copy(out, log[start:])
	return out
}

// trimFront drops the oldest messages until the window fits in limit.
func trimFront(window []store.Message, limit int) []store.Message {
	total := WindowTokens(window)
	drop := 0
	for drop < len(window) && total > limit {
		total -= ApproxTokens(window[drop].Content)
		drop++
	}
	if drop == 0 {
		return window
	}
	out := make([]store.Message, len(window)-drop)
	copy(out, window[drop:])
	return out
}
