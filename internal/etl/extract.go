package etl

import "sort"

// ExtractProjects selects the project dimension columns from the upstream
// listing. Projects sharing a name keep the first occurrence.
func ExtractProjects(raw []RawProject) ([]ProjectRow, error) {
	rows := make([]ProjectRow, 0, len(raw))
	for _, p := range raw {
		created, err := ParseTimestamp(p.CreatedAt)
		if err != nil {
			return nil, &ParseError{EntryID: p.ID, Field: "created_at", Value: p.CreatedAt, Err: err}
		}
		if p.At != "" {
			if _, err := ParseTimestamp(p.At); err != nil {
				return nil, &ParseError{EntryID: p.ID, Field: "at", Value: p.At, Err: err}
			}
		}

		flags := []struct {
			field string
			value Flag
		}{
			{"billable", p.Billable},
			{"is_private", p.IsPrivate},
			{"template", p.Template},
			{"auto_estimates", p.AutoEstimates},
		}
		for _, f := range flags {
			if _, err := f.value.Bool(); err != nil {
				return nil, &ParseError{EntryID: p.ID, Field: f.field, Value: string(f.value), Err: err}
			}
		}
		active, err := p.Active.Bool()
		if err != nil {
			return nil, &ParseError{EntryID: p.ID, Field: "active", Value: string(p.Active), Err: err}
		}

		rows = append(rows, ProjectRow{
			ID:        p.ID,
			Name:      p.Name,
			CreatedAt: created.UTC(),
			Active:    active,
		})
	}
	return DistinctBy(rows, func(r ProjectRow) string { return r.Name }), nil
}

// ExtractUsers projects the distinct (user id, user name) pairs. When one
// name appears under several ids the first pair wins, so the batch never
// carries the same natural key twice.
func ExtractUsers(entries []NormalizedEntry) []UserRow {
	rows := make([]UserRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, UserRow{ID: e.UserID, Name: e.User})
	}
	rows = DistinctBy(rows, func(r UserRow) UserRow { return r })
	return DistinctBy(rows, func(r UserRow) string { return r.Name })
}

// ExtractTasks projects the distinct descriptions in order of first
// occurrence and numbers them 1..n.
func ExtractTasks(entries []NormalizedEntry) []TaskRow {
	rows := make([]TaskRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, TaskRow{Name: e.Description})
	}
	rows = DistinctBy(rows, func(r TaskRow) string { return r.Name })
	for i := range rows {
		rows[i].ID = int64(i + 1)
	}
	return rows
}

// ExtractTags flattens every entry's tags into the set of distinct names,
// sorted lexicographically, and numbers them 1..n.
func ExtractTags(entries []NormalizedEntry) []TagRow {
	seen := make(map[string]struct{})
	var names []string
	for _, e := range entries {
		for _, name := range e.TagNames() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rows := make([]TagRow, len(names))
	for i, name := range names {
		rows[i] = TagRow{ID: int64(i + 1), Name: name}
	}
	return rows
}

// Renumber assigns consecutive ids starting after maxID, in row order.
// Synthesized dimension ids are positional within one batch, so the residue
// of a later run is moved past ids already taken in the table.
func Renumber[T any](rows []T, maxID int64, set func(*T, int64)) []T {
	out := make([]T, len(rows))
	copy(out, rows)
	for i := range out {
		set(&out[i], maxID+int64(i+1))
	}
	return out
}
