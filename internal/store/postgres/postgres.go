// Package postgres implements store.Store on a PostgreSQL database via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jmherbst/voxdesk/internal/store"
)

// Schema is the SQL DDL for the dashboard tables the assistant writes to.
// Execute it via [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL,
    client    TEXT NOT NULL DEFAULT '',
    deadline  TEXT NOT NULL DEFAULT '',
    category  TEXT NOT NULL DEFAULT '',
    status    TEXT NOT NULL DEFAULT 'not started'
);
CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name);

CREATE TABLE IF NOT EXISTS subtasks (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'not started',
    position   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_subtasks_project ON subtasks(project_id);

CREATE TABLE IF NOT EXISTS skills (
    id        TEXT PRIMARY KEY,
    name      TEXT NOT NULL,
    deadline  TEXT NOT NULL DEFAULT '',
    category  TEXT NOT NULL DEFAULT '',
    status    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transactions (
    id          TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    amount      NUMERIC NOT NULL DEFAULT 0,
    date        TEXT NOT NULL DEFAULT '',
    type        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS todos (
    id       TEXT PRIMARY KEY,
    text     TEXT NOT NULL,
    done     BOOLEAN NOT NULL DEFAULT FALSE,
    position INTEGER NOT NULL DEFAULT 0
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store is a [store.Store] backed by PostgreSQL.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// New creates a Store on the given connection or pool. The caller is
// responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables if they do not
// already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, table string, rec store.Record) (string, error) {
	if err := validIdent(table); err != nil {
		return "", err
	}

	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	cols := []string{"id"}
	args := []any{id}
	for _, k := range sortedKeys(rec) {
		if k == "id" {
			continue
		}
		if err := validIdent(k); err != nil {
			return "", err
		}
		cols = append(cols, k)
		args = append(args, rec[k])
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("postgres: insert into %s: %w", table, err)
	}
	return id, nil
}

func (s *Store) SelectOne(ctx context.Context, table string, filter store.Filter) (store.Record, error) {
	recs, err := s.selectRows(ctx, table, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

func (s *Store) SelectAll(ctx context.Context, table string, filter store.Filter) ([]store.Record, error) {
	return s.selectRows(ctx, table, filter, 0)
}

func (s *Store) SelectMaxInt(ctx context.Context, table string, column string, filter store.Filter) (int, bool, error) {
	if err := validIdent(table); err != nil {
		return 0, false, err
	}
	if err := validIdent(column); err != nil {
		return 0, false, err
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, false, err
	}

	query := fmt.Sprintf("SELECT MAX(%s) FROM %s%s", column, table, where)
	var max *int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("postgres: select max %s.%s: %w", table, column, err)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// selectRows runs a filtered SELECT *. limit 0 means no limit.
func (s *Store) selectRows(ctx context.Context, table string, filter store.Filter, limit int) ([]store.Record, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s%s", table, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: select from %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var recs []store.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: select from %s: scan: %w", table, err)
		}
		rec := make(store.Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = values[i]
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: select from %s: %w", table, err)
	}
	return recs, nil
}

// buildWhere renders a filter as a WHERE clause. Contains values become
// ILIKE substring patterns; everything else compares exactly.
func buildWhere(filter store.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []any
	for _, k := range sortedKeys(filter) {
		if err := validIdent(k); err != nil {
			return "", nil, err
		}
		switch v := filter[k].(type) {
		case store.Contains:
			args = append(args, "%"+escapeLike(string(v))+"%")
			clauses = append(clauses, fmt.Sprintf("%s ILIKE $%d", k, len(args)))
		default:
			args = append(args, v)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", k, len(args)))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// escapeLike neutralises LIKE metacharacters in user-supplied match text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// validIdent rejects table and column names that cannot be interpolated
// safely. Identifiers come from code, never from speech, so this is a guard
// against programming mistakes rather than injection.
func validIdent(name string) error {
	if name == "" {
		return errors.New("postgres: empty identifier")
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("postgres: invalid identifier %q", name)
	}
	return nil
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
