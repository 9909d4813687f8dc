// Package mock provides an in-memory store.Store for tests.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jmherbst/voxdesk/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps records in memory, preserving insertion order per table.
type Store struct {
	mu     sync.Mutex
	tables map[string][]store.Record

	// InsertErr, when set, fails every Insert. Used to exercise the
	// mutation-failed path.
	InsertErr error

	inserts []Insert
}

// Insert records one Insert call for inspection.
type Insert struct {
	Table  string
	Record store.Record
}

// New creates an empty Store.
func New() *Store {
	return &Store{tables: make(map[string][]store.Record)}
}

// Seed adds a record directly, bypassing error injection and call recording.
func (s *Store) Seed(table string, rec store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], cloneRecord(rec))
}

// Inserts returns a copy of all recorded Insert calls.
func (s *Store) Inserts() []Insert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Insert(nil), s.inserts...)
}

func (s *Store) Insert(ctx context.Context, table string, rec store.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InsertErr != nil {
		return "", s.InsertErr
	}

	stored := cloneRecord(rec)
	id, _ := stored["id"].(string)
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	s.tables[table] = append(s.tables[table], stored)
	s.inserts = append(s.inserts, Insert{Table: table, Record: cloneRecord(rec)})
	return id, nil
}

func (s *Store) SelectOne(ctx context.Context, table string, filter store.Filter) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.tables[table] {
		if matches(rec, filter) {
			return cloneRecord(rec), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SelectAll(ctx context.Context, table string, filter store.Filter) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Record
	for _, rec := range s.tables[table] {
		if matches(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *Store) SelectMaxInt(ctx context.Context, table string, column string, filter store.Filter) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max, found := 0, false
	for _, rec := range s.tables[table] {
		if !matches(rec, filter) {
			continue
		}
		v, ok := asInt(rec[column])
		if !ok {
			continue
		}
		if !found || v > max {
			max, found = v, true
		}
	}
	return max, found, nil
}

func matches(rec store.Record, filter store.Filter) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case store.Contains:
			gs, ok := got.(string)
			if !ok || !strings.Contains(strings.ToLower(gs), strings.ToLower(string(w))) {
				return false
			}
		default:
			if got != want {
				return false
			}
		}
	}
	return true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func cloneRecord(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
