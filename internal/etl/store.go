package etl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Table describes a destination table: its physical name, its columns in
// insertion order, and the columns forming its natural key.
type Table struct {
	Name    string
	Columns []string
	Key     []string
}

// Destination tables of the star schema.
var (
	ProjectTable = Table{
		Name:    "toggl_project",
		Columns: []string{"id", "project_name", "created_at_date", "active"},
		Key:     []string{"project_name"},
	}
	UserTable = Table{
		Name:    "toggl_user",
		Columns: []string{"id", "name"},
		Key:     []string{"name"},
	}
	TaskTable = Table{
		Name:    "toggl_task",
		Columns: []string{"id", "task_name"},
		Key:     []string{"task_name"},
	}
	TagTable = Table{
		Name:    "toggl_tag",
		Columns: []string{"id", "tag_name"},
		Key:     []string{"tag_name"},
	}
	EntryTable = Table{
		Name:    "toggl_entry",
		Columns: []string{"id", "toggl_project_id", "toggl_task_id", "toggl_user_id", "start_date", "end_date", "update_date"},
		Key:     []string{"id"},
	}
	EntryTagTable = Table{
		Name:    "toggl_entry_tag",
		Columns: []string{"toggl_entry_id", "toggl_tag_id"},
		Key:     []string{"toggl_entry_id", "toggl_tag_id"},
	}
)

// Tables lists every destination table in load order.
var Tables = []Table{ProjectTable, UserTable, TaskTable, TagTable, EntryTable, EntryTagTable}

// Row is a typed row destined for a Table.
type Row interface {
	// Key returns the natural key tuple of the row.
	Key() Key
	// Values returns the column values in the table's column order.
	Values() []any
}

// Key is an encoded natural-key tuple. Two tuples are equal exactly when
// their encodings are equal.
type Key string

const keySep = "\x1f"

// KeyOf encodes an ordered tuple of column values into a Key.
// Integers of any width encode identically, so a key built from an int64
// field matches one scanned back from the database.
func KeyOf(values ...any) Key {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatKeyPart(v)
	}
	return Key(strings.Join(parts, keySep))
}

func formatKeyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// KeySet is a set of natural-key tuples already present in a table.
type KeySet map[Key]struct{}

// NewKeySet builds a KeySet from the given keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Add inserts k into the set.
func (s KeySet) Add(k Key) {
	s[k] = struct{}{}
}

// Store is the relational sink the load pipeline reads existing state from
// and appends new rows to. Every read observes already-committed state.
type Store interface {
	// ExistingKeys returns the distinct tuples of the given columns present in table.
	ExistingKeys(ctx context.Context, table string, columns []string) (KeySet, error)

	// Dimension returns a natural key to surrogate id mapping for the table,
	// reading the "id" column and keyColumn.
	Dimension(ctx context.Context, table string, keyColumn string) (Dimension, error)

	// MaxID returns the largest "id" in table, or 0 when the table is empty.
	MaxID(ctx context.Context, table string) (int64, error)

	// Append inserts rows into table inside a single transaction and returns
	// the number of rows written. Appending zero rows must not touch the table.
	Append(ctx context.Context, table Table, rows []Row) (int, error)

	// ProjectIDs returns the distinct project ids currently stored.
	ProjectIDs(ctx context.Context) ([]int64, error)
}
