package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgRow struct {
	role, content string
	profile       []byte
	created       time.Time
}

// fakePg emulates the statements PostgresStore issues against a map.
type fakePg struct {
	mu    sync.Mutex
	rows  map[string]map[string]*pgRow
	execs []string
	err   error
}

func newFakePg() *fakePg {
	return &fakePg{rows: map[string]map[string]*pgRow{}}
}

func (f *fakePg) row(sid, key string) *pgRow {
	if f.rows[sid] == nil {
		f.rows[sid] = map[string]*pgRow{}
	}
	r, ok := f.rows[sid][key]
	if !ok {
		r = &pgRow{created: time.Now()}
		f.rows[sid][key] = r
	}
	return r
}

func (f *fakePg) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	f.execs = append(f.execs, sql)
	var sid string
	if len(args) > 0 {
		sid, _ = args[0].(string)
	}
	switch sql {
	case schemaSQL:
	case insertMessageSQL:
		r := f.row(sid, args[1].(string))
		r.role, r.content, r.created = args[2].(string), args[3].(string), args[4].(time.Time)
	case upsertSummarySQL:
		f.row(sid, SummaryKey).content = args[1].(string)
	case mergeProfileSQL:
		r := f.row(sid, ProfileKey)
		merged := map[string]any{}
		if len(r.profile) > 0 {
			_ = json.Unmarshal(r.profile, &merged)
		}
		var patch map[string]any
		if err := json.Unmarshal([]byte(args[1].(string)), &patch); err != nil {
			return pgconn.CommandTag{}, err
		}
		for k, v := range patch {
			merged[k] = v
		}
		r.profile, _ = json.Marshal(merged)
	case deleteSessionSQL:
		delete(f.rows, sid)
	default:
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakePg) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if sql != selectMessagesSQL {
		return nil, fmt.Errorf("unexpected query: %s", sql)
	}
	sid := args[0].(string)
	var keys []string
	for k := range f.rows[sid] {
		if strings.HasPrefix(k, MessagePrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &fakeRows{}
	for _, k := range keys {
		r := f.rows[sid][k]
		out.data = append(out.data, []any{k, r.role, r.content, r.created})
	}
	return out, nil
}

func (f *fakePg) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	sid := args[0].(string)
	switch sql {
	case selectSummarySQL:
		r, ok := f.rows[sid][SummaryKey]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{r.content}}
	case selectProfileSQL:
		r, ok := f.rows[sid][ProfileKey]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{r.profile}}
	}
	return fakeRow{err: fmt.Errorf("unexpected query row: %s", sql)}
}

func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = vals[i].(string)
		case *time.Time:
			*p = vals[i].(time.Time)
		case *[]byte:
			*p = vals[i].([]byte)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type fakeRows struct {
	data [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { r.pos++; return r.pos <= len(r.data) }
func (r *fakeRows) Scan(dest ...any) error                       { return assign(dest, r.data[r.pos-1]) }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func TestPostgresStoreContract(t *testing.T) {
	runContract(t, func(*testing.T) Store { return NewPostgresStore(newFakePg()) })
}

func TestPostgresStoreEnsureSchema(t *testing.T) {
	fake := newFakePg()
	s := NewPostgresStore(fake)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(fake.execs) != 1 || !strings.Contains(fake.execs[0], "CREATE TABLE IF NOT EXISTS conversation_items") {
		t.Errorf("execs = %v", fake.execs)
	}
}

func TestPostgresStoreSkipsEmptyProfile(t *testing.T) {
	fake := newFakePg()
	s := NewPostgresStore(fake)
	if err := s.SaveUserInfo(context.Background(), "sess", UserInfo{}); err != nil {
		t.Fatalf("SaveUserInfo: %v", err)
	}
	if len(fake.execs) != 0 {
		t.Errorf("empty profile issued %d statements", len(fake.execs))
	}
}

func TestPostgresStoreErrorsAreUnavailable(t *testing.T) {
	fake := newFakePg()
	fake.err = errors.New("connection reset")
	s := NewPostgresStore(fake)

	if _, err := s.GetSummary(context.Background(), "sess"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetSummary error = %v, want ErrUnavailable", err)
	}
	if err := s.ClearConversation(context.Background(), "sess"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ClearConversation error = %v, want ErrUnavailable", err)
	}
}
