package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/szaher/minime/internal/llm"
)

// EtcdKV is the subset of clientv3.Client used by EtcdStore.
type EtcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

const maxProfileRetries = 8

var errProfileConflict = errors.New("profile update kept conflicting")

// EtcdStore keeps conversations under <prefix>/<session>/<discriminator>.
// The session segment is path-escaped so no id can be a key prefix of
// another session's items.
type EtcdStore struct {
	kv     EtcdKV
	prefix string
	now    func() time.Time
}

type etcdMessage struct {
	Role    llm.Role  `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// NewEtcdStore creates a store rooted at prefix.
func NewEtcdStore(kv EtcdKV, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = "/minime"
	}
	return &EtcdStore{kv: kv, prefix: strings.TrimSuffix(prefix, "/"), now: time.Now}
}

func (s *EtcdStore) key(sessionID, disc string) string {
	return s.prefix + "/" + url.PathEscape(sessionID) + "/" + disc
}

// AddMessage puts a MSG# key.
func (s *EtcdStore) AddMessage(ctx context.Context, sessionID string, role llm.Role, content string) (Message, error) {
	msg := Message{
		SessionID: sessionID,
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	val, err := json.Marshal(etcdMessage{Role: role, Content: content, TS: msg.Timestamp})
	if err != nil {
		return Message{}, fmt.Errorf("encode message: %w", err)
	}
	if _, err := s.kv.Put(ctx, s.key(sessionID, MessageKey(msg.ID)), string(val)); err != nil {
		return Message{}, opErr("etcd", "add message", err)
	}
	return msg, nil
}

// GetConversation range-reads the MSG# keys sorted ascending.
func (s *EtcdStore) GetConversation(ctx context.Context, sessionID string) ([]Message, error) {
	resp, err := s.kv.Get(ctx, s.key(sessionID, MessagePrefix),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, opErr("etcd", "get conversation", err)
	}
	out := make([]Message, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var m etcdMessage
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			return nil, opErr("etcd", "get conversation", fmt.Errorf("decode %s: %w", kv.Key, err))
		}
		disc := strings.TrimPrefix(string(kv.Key), s.key(sessionID, ""))
		out = append(out, Message{
			SessionID: sessionID,
			ID:        MessageIDFromKey(disc),
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.TS,
		})
	}
	return out, nil
}

// GetSummary reads the SUMMARY key.
func (s *EtcdStore) GetSummary(ctx context.Context, sessionID string) (string, error) {
	resp, err := s.kv.Get(ctx, s.key(sessionID, SummaryKey))
	if err != nil {
		return "", opErr("etcd", "get summary", err)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// SaveSummary overwrites the SUMMARY key.
func (s *EtcdStore) SaveSummary(ctx context.Context, sessionID, text string) error {
	_, err := s.kv.Put(ctx, s.key(sessionID, SummaryKey), text)
	return opErr("etcd", "save summary", err)
}

// GetUserInfo reads the META key.
func (s *EtcdStore) GetUserInfo(ctx context.Context, sessionID string) (*UserInfo, error) {
	info, _, err := s.readProfile(ctx, sessionID)
	if err != nil {
		return nil, opErr("etcd", "get user info", err)
	}
	return info, nil
}

func (s *EtcdStore) readProfile(ctx context.Context, sessionID string) (*UserInfo, int64, error) {
	resp, err := s.kv.Get(ctx, s.key(sessionID, ProfileKey))
	if err != nil {
		return nil, 0, err
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}
	info := &UserInfo{}
	if err := json.Unmarshal(resp.Kvs[0].Value, info); err != nil {
		return nil, 0, fmt.Errorf("decode profile: %w", err)
	}
	return info, resp.Kvs[0].ModRevision, nil
}

// SaveUserInfo merges info into the META key with a compare-and-swap on the
// key's mod revision.
func (s *EtcdStore) SaveUserInfo(ctx context.Context, sessionID string, info UserInfo) error {
	if info.IsZero() {
		return nil
	}
	key := s.key(sessionID, ProfileKey)
	for attempt := 0; attempt < maxProfileRetries; attempt++ {
		current, rev, err := s.readProfile(ctx, sessionID)
		if err != nil {
			return opErr("etcd", "save user info", err)
		}
		merged := UserInfo{}
		if current != nil {
			merged = *current
		}
		merged.Merge(info)
		val, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		resp, err := s.kv.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
			Then(clientv3.OpPut(key, string(val))).
			Commit()
		if err != nil {
			return opErr("etcd", "save user info", err)
		}
		if resp.Succeeded {
			return nil
		}
	}
	return opErr("etcd", "save user info", errProfileConflict)
}

// ClearConversation deletes every key of the session.
func (s *EtcdStore) ClearConversation(ctx context.Context, sessionID string) error {
	_, err := s.kv.Delete(ctx, s.key(sessionID, ""), clientv3.WithPrefix())
	return opErr("etcd", "clear conversation", err)
}
