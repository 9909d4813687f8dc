// Package store defines the narrow record-mutation interface the intent
// dispatcher uses against the dashboard database.
//
// The dispatcher never needs a table's full CRUD surface; it inserts new
// records, looks rows up by filter, and computes the next ordering position.
// Records travel as flat column-name to value maps so one implementation
// serves every table.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by SelectOne when no row matches the filter.
var ErrNotFound = errors.New("store: record not found")

// Table names used by the dispatcher.
const (
	TableProjects     = "projects"
	TableSubtasks     = "subtasks"
	TableSkills       = "skills"
	TableTransactions = "transactions"
	TableTodos        = "todos"
)

// Record is one flat database row, keyed by column name.
type Record map[string]any

// Contains marks a filter value as a case-insensitive partial match instead
// of an exact comparison.
type Contains string

// Filter selects rows by column value. Plain values compare exactly;
// Contains values match case-insensitive substrings.
type Filter map[string]any

// Store is the mutation interface consumed by the intent dispatcher.
type Store interface {
	// Insert adds a record and returns its id. When the record carries no
	// "id" key the implementation assigns one.
	Insert(ctx context.Context, table string, rec Record) (string, error)

	// SelectOne returns the first row matching filter, or ErrNotFound.
	SelectOne(ctx context.Context, table string, filter Filter) (Record, error)

	// SelectAll returns every row matching filter, in name order where the
	// table has a name column.
	SelectAll(ctx context.Context, table string, filter Filter) ([]Record, error)

	// SelectMaxInt returns the maximum value of an integer column among
	// rows matching filter. ok is false when no rows match.
	SelectMaxInt(ctx context.Context, table string, column string, filter Filter) (max int, ok bool, err error)
}
