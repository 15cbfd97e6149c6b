package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/szaher/minime/internal/llm"
)

// PgxConn is the subset of pgxpool.Pool used by PostgresStore.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS conversation_items (
	session_id TEXT NOT NULL,
	item_key   TEXT NOT NULL,
	role       TEXT,
	content    TEXT,
	profile    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, item_key)
)`

const (
	insertMessageSQL = `INSERT INTO conversation_items (session_id, item_key, role, content, created_at)
VALUES ($1, $2, $3, $4, $5)`

	selectMessagesSQL = `SELECT item_key, role, COALESCE(content, ''), created_at
FROM conversation_items
WHERE session_id = $1 AND item_key LIKE 'MSG#%'
ORDER BY item_key`

	selectSummarySQL = `SELECT COALESCE(content, '') FROM conversation_items
WHERE session_id = $1 AND item_key = 'SUMMARY'`

	upsertSummarySQL = `INSERT INTO conversation_items (session_id, item_key, content)
VALUES ($1, 'SUMMARY', $2)
ON CONFLICT (session_id, item_key) DO UPDATE SET content = EXCLUDED.content`

	selectProfileSQL = `SELECT profile FROM conversation_items
WHERE session_id = $1 AND item_key = 'META'`

	mergeProfileSQL = `INSERT INTO conversation_items (session_id, item_key, profile)
VALUES ($1, 'META', $2::jsonb)
ON CONFLICT (session_id, item_key)
DO UPDATE SET profile = COALESCE(conversation_items.profile, '{}'::jsonb) || EXCLUDED.profile`

	deleteSessionSQL = `DELETE FROM conversation_items WHERE session_id = $1`
)

// PostgresStore keeps conversations in one PostgreSQL table using the same
// item discriminators as the DynamoDB layout.
type PostgresStore struct {
	db  PgxConn
	now func() time.Time
}

// NewPostgresStore creates a store over an open pool or connection.
func NewPostgresStore(db PgxConn) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// EnsureSchema creates the conversation table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return opErr("postgres", "ensure schema", err)
}

// AddMessage inserts a MSG# row.
func (s *PostgresStore) AddMessage(ctx context.Context, sessionID string, role llm.Role, content string) (Message, error) {
	msg := Message{
		SessionID: sessionID,
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	if _, err := s.db.Exec(ctx, insertMessageSQL, sessionID, MessageKey(msg.ID), string(role), content, msg.Timestamp); err != nil {
		return Message{}, opErr("postgres", "add message", err)
	}
	return msg, nil
}

// GetConversation returns the session's MSG# rows in key order.
func (s *PostgresStore) GetConversation(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.Query(ctx, selectMessagesSQL, sessionID)
	if err != nil {
		return nil, opErr("postgres", "get conversation", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			key, role, content string
			ts                 time.Time
		)
		if err := rows.Scan(&key, &role, &content, &ts); err != nil {
			return nil, opErr("postgres", "get conversation", err)
		}
		out = append(out, Message{
			SessionID: sessionID,
			ID:        MessageIDFromKey(key),
			Role:      llm.Role(role),
			Content:   content,
			Timestamp: ts.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("postgres", "get conversation", err)
	}
	return out, nil
}

// GetSummary reads the SUMMARY row.
func (s *PostgresStore) GetSummary(ctx context.Context, sessionID string) (string, error) {
	var text string
	err := s.db.QueryRow(ctx, selectSummarySQL, sessionID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", opErr("postgres", "get summary", err)
	}
	return text, nil
}

// SaveSummary upserts the SUMMARY row.
func (s *PostgresStore) SaveSummary(ctx context.Context, sessionID, text string) error {
	_, err := s.db.Exec(ctx, upsertSummarySQL, sessionID, text)
	return opErr("postgres", "save summary", err)
}

// GetUserInfo reads the META row.
func (s *PostgresStore) GetUserInfo(ctx context.Context, sessionID string) (*UserInfo, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, selectProfileSQL, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("postgres", "get user info", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	info := &UserInfo{}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, opErr("postgres", "get user info", fmt.Errorf("decode profile: %w", err))
	}
	return info, nil
}

// SaveUserInfo merges the provided fields into the stored profile with a
// single jsonb concatenation, so unset fields keep their stored values.
func (s *PostgresStore) SaveUserInfo(ctx context.Context, sessionID string, info UserInfo) error {
	if info.IsZero() {
		return nil
	}
	patch, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.Exec(ctx, mergeProfileSQL, sessionID, string(patch))
	return opErr("postgres", "save user info", err)
}

// ClearConversation deletes every row of the session.
func (s *PostgresStore) ClearConversation(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, deleteSessionSQL, sessionID)
	return opErr("postgres", "clear conversation", err)
}
