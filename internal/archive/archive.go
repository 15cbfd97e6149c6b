// Package archive writes finished conversation transcripts to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/szaher/minime/internal/events"
	"github.com/szaher/minime/internal/store"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Transcript is the archived document.
type Transcript struct {
	SessionID  string            `json:"session_id"`
	ArchivedAt time.Time         `json:"archived_at"`
	Summary    string            `json:"summary,omitempty"`
	Profile    *store.UserInfo   `json:"profile,omitempty"`
	Messages   []TranscriptEntry `json:"messages"`
}

// TranscriptEntry is one archived message.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// S3Archiver stores transcripts as JSON objects at <prefix>/<session>.json.
type S3Archiver struct {
	api    S3API
	store  store.Store
	bucket string
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewS3Archiver creates an archiver.
func NewS3Archiver(api S3API, st store.Store, bucket, prefix string, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{api: api, store: st, bucket: bucket, prefix: prefix, logger: logger, now: time.Now}
}

// Key returns the object key for a session.
func (a *S3Archiver) Key(sessionID string) string {
	return path.Join(a.prefix, sessionID+".json")
}

// Archive writes the transcript of sessionID. Sessions without messages are
// skipped and return an empty key.
func (a *S3Archiver) Archive(ctx context.Context, sessionID string) (string, error) {
	messages, err := a.store.GetConversation(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", nil
	}
	summary, err := a.store.GetSummary(ctx, sessionID)
	if err != nil {
		return "", err
	}
	profile, err := a.store.GetUserInfo(ctx, sessionID)
	if err != nil {
		return "", err
	}

	t := Transcript{
		SessionID:  sessionID,
		ArchivedAt: a.now().UTC(),
		Summary:    summary,
		Profile:    profile,
		Messages:   make([]TranscriptEntry, len(messages)),
	}
	for i, m := range messages {
		t.Messages[i] = TranscriptEntry{ID: m.ID, Role: string(m.Role), Content: m.Content, Timestamp: m.Timestamp}
	}
	body, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}

	key := a.Key(sessionID)
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Info("archived transcript", "session_id", sessionID, "bucket", a.bucket, "key", key, "messages", len(messages))
	return key, nil
}

// Handle is the ConversationEnded handler.
func (a *S3Archiver) Handle(ctx context.Context, ev events.Event) error {
	_, err := a.Archive(ctx, ev.SessionID)
	return err
}
