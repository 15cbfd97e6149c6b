package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const placeholder = "***REDACTED***"

// RedactFilter wraps a slog handler and scrubs registered secret values from
// messages and string-valued attributes, including those inside groups.
type RedactFilter struct {
	inner slog.Handler
	set   *secretSet
}

type secretSet struct {
	mu     sync.RWMutex
	values []string
}

// NewRedactFilter wraps inner.
func NewRedactFilter(inner slog.Handler) *RedactFilter {
	return &RedactFilter{inner: inner, set: &secretSet{}}
}

// AddSecret registers values to redact. Empty values and values shorter than
// four characters are ignored.
func (f *RedactFilter) AddSecret(values ...string) {
	f.set.mu.Lock()
	defer f.set.mu.Unlock()
	for _, v := range values {
		if len(v) < 4 {
			continue
		}
		f.set.values = append(f.set.values, v)
	}
}

// RedactString replaces registered values in s.
func (f *RedactFilter) RedactString(s string) string {
	f.set.mu.RLock()
	defer f.set.mu.RUnlock()
	for _, v := range f.set.values {
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Enabled delegates to the inner handler.
func (f *RedactFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.inner.Enabled(ctx, level)
}

// Handle redacts the record and passes it on.
func (f *RedactFilter) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, f.RedactString(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(f.redactAttr(a))
		return true
	})
	return f.inner.Handle(ctx, out)
}

// WithAttrs redacts attrs before handing them to the inner handler.
func (f *RedactFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = f.redactAttr(a)
	}
	return &RedactFilter{inner: f.inner.WithAttrs(clean), set: f.set}
}

// WithGroup delegates to the inner handler.
func (f *RedactFilter) WithGroup(name string) slog.Handler {
	return &RedactFilter{inner: f.inner.WithGroup(name), set: f.set}
}

func (f *RedactFilter) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, f.RedactString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = f.redactAttr(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, f.RedactString(err.Error()))
		}
		if s, ok := v.Any().(fmt.Stringer); ok {
			return slog.String(a.Key, f.RedactString(s.String()))
		}
	}
	return a
}
