package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/szaher/minime/internal/events"
	"github.com/szaher/minime/internal/store"
)

// Subject is the subject line of every report.
const Subject = "Conversation Summary"

// TextSummarizer summarizes a rendered conversation block.
// *memory.LLMSummarizer configured with memory.ConversationPrompt satisfies it.
type TextSummarizer interface {
	SummarizeText(ctx context.Context, block string) (string, error)
}

// Report is the content of one conversation report.
type Report struct {
	SessionID string
	Meta      []string
	Summary   string
}

// Body renders the email body.
func (r *Report) Body() string {
	return strings.Join(r.Meta, "\n") + "\n\nSummary:\n" + r.Summary
}

// Reporter summarizes finished sessions and emails the result.
type Reporter struct {
	store      store.Store
	summarizer TextSummarizer
	mailer     Mailer
	from, to   string
	logger     *slog.Logger
}

// NewReporter creates a reporter mailing from -> to.
func NewReporter(st store.Store, summarizer TextSummarizer, mailer Mailer, from, to string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{store: st, summarizer: summarizer, mailer: mailer, from: from, to: to, logger: logger}
}

// Build reads the session and produces its report. It returns nil when the
// session has no messages.
func (r *Reporter) Build(ctx context.Context, sessionID string) (*Report, error) {
	messages, err := r.store.GetConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}
	base, err := r.store.GetSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	info, err := r.store.GetUserInfo(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(messages)+1)
	if base != "" {
		parts = append(parts, base)
	}
	for _, m := range messages {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	summary, err := r.summarizer.SummarizeText(ctx, strings.Join(parts, "\n"))
	if err != nil {
		return nil, err
	}

	return &Report{
		SessionID: sessionID,
		Meta:      metaLines(sessionID, info, messages[0].Timestamp, messages[len(messages)-1].Timestamp),
		Summary:   summary,
	}, nil
}

func metaLines(sessionID string, info *store.UserInfo, start, end time.Time) []string {
	lines := []string{"Session ID: " + sessionID}
	if info != nil {
		add := func(label string, v *string) {
			if s := store.Value(v); s != "" {
				lines = append(lines, label+": "+s)
			}
		}
		add("Name", info.Name)
		add("Company", info.Company)
		add("Role", info.Role)

		var loc []string
		for _, p := range []*string{info.City, info.Country} {
			if s := store.Value(p); s != "" {
				loc = append(loc, s)
			}
		}
		location := strings.Join(loc, ", ")
		if ip := store.Value(info.IP); ip != "" {
			if location != "" {
				location += " (IP: " + ip + ")"
			} else {
				location = "IP: " + ip
			}
		}
		if location != "" {
			lines = append(lines, "Location: "+location)
		}
		add("Postal Code", info.PostalCode)
		add("Time Zone", info.TimeZone)
	}
	lines = append(lines,
		"Start: "+start.UTC().Format(time.RFC3339),
		"End: "+end.UTC().Format(time.RFC3339),
	)
	return lines
}

// Send builds the report for sessionID and emails it. Sessions without
// messages send nothing.
func (r *Reporter) Send(ctx context.Context, sessionID string) (*Report, error) {
	report, err := r.Build(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("building report: %w", err)
	}
	if report == nil {
		r.logger.Info("no conversation messages, skipping report", "session_id", sessionID)
		return nil, nil
	}
	if err := r.mailer.Send(ctx, Email{From: r.from, To: r.to, Subject: Subject, Body: report.Body()}); err != nil {
		return report, err
	}
	r.logger.Info("sent conversation report", "session_id", sessionID, "to", r.to)
	return report, nil
}

// Handle is the ConversationEnded handler.
func (r *Reporter) Handle(ctx context.Context, ev events.Event) error {
	_, err := r.Send(ctx, ev.SessionID)
	return err
}
