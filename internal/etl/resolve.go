package etl

// Dimension maps the natural key of a dimension row to its surrogate id.
type Dimension map[string]int64

// Lookup returns the surrogate id for key.
func (d Dimension) Lookup(key string) (int64, bool) {
	id, ok := d[key]
	return id, ok
}

// ForeignKey describes one foreign-key column of rows of type T: how to read
// the natural key it references and how to store the resolved id.
type ForeignKey[T any] struct {
	Table     string // table the rows are destined for
	Dimension string // referenced dimension table
	On        func(T) string
	Set       func(*T, int64)
}

// Resolve looks up every row's natural key in dim and stores the surrogate id.
// Rows with no match are returned separately and are absent from resolved;
// the relative order of resolved rows is preserved.
func Resolve[T Row](rows []T, dim Dimension, fk ForeignKey[T]) (resolved []T, unresolved []Unresolved) {
	resolved = make([]T, 0, len(rows))
	for _, r := range rows {
		key := fk.On(r)
		id, ok := dim.Lookup(key)
		if !ok {
			unresolved = append(unresolved, Unresolved{
				Table:     fk.Table,
				Dimension: fk.Dimension,
				Key:       key,
				RowKey:    r.Key(),
			})
			continue
		}
		fk.Set(&r, id)
		resolved = append(resolved, r)
	}
	return resolved, unresolved
}

// Require keeps rows whose referenced id is present in ids. It is the
// membership form of Resolve, used where the row already carries the
// upstream id and only referential integrity has to be checked.
func Require[T Row](rows []T, ids KeySet, table, dimension string, id func(T) int64) (kept []T, unresolved []Unresolved) {
	kept = make([]T, 0, len(rows))
	for _, r := range rows {
		v := id(r)
		if !ids.Has(KeyOf(v)) {
			unresolved = append(unresolved, Unresolved{
				Table:     table,
				Dimension: dimension,
				Key:       string(KeyOf(v)),
				RowKey:    r.Key(),
			})
			continue
		}
		kept = append(kept, r)
	}
	return kept, unresolved
}
