package etl

import "database/sql"

// BuildEntries selects the fact columns of each entry, keeping the first
// record per entry id, with all timestamps converted to UTC. TaskID is left
// zero for the resolver.
func BuildEntries(entries []NormalizedEntry) []EntryRow {
	rows := make([]EntryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, EntryRow{
			ID:        e.ID,
			ProjectID: e.ProjectID,
			UserID:    e.UserID,
			TaskName:  e.Description,
			Start:     e.Start.UTC(),
			End:       e.End.UTC(),
			Updated:   e.Updated.UTC(),
		})
	}
	return DistinctBy(rows, func(r EntryRow) int64 { return r.ID })
}

// TagSlots is the wide form of the entry tags: one row per entry and one
// column per tag position, padded with NULLs to the widest entry.
type TagSlots struct {
	EntryIDs []int64
	Slots    [][]sql.NullString
}

// SplitTagSlots re-splits each entry's tag string into positional slots.
func SplitTagSlots(entries []NormalizedEntry) TagSlots {
	entries = DistinctBy(entries, func(e NormalizedEntry) int64 { return e.ID })

	width := 0
	split := make([][]string, len(entries))
	for i, e := range entries {
		split[i] = e.TagNames()
		if len(split[i]) > width {
			width = len(split[i])
		}
	}

	ts := TagSlots{
		EntryIDs: make([]int64, len(entries)),
		Slots:    make([][]sql.NullString, len(entries)),
	}
	for i, e := range entries {
		ts.EntryIDs[i] = e.ID
		row := make([]sql.NullString, width)
		for j, name := range split[i] {
			row[j] = sql.NullString{String: name, Valid: true}
		}
		ts.Slots[i] = row
	}
	return ts
}

// Melt pivots the wide slots into one row per (entry, tag name) pair,
// dropping empty slots and repeated names on the same entry. TagID is left
// zero for the resolver.
func (ts TagSlots) Melt() []EntryTagRow {
	var rows []EntryTagRow
	for i, entryID := range ts.EntryIDs {
		for _, slot := range ts.Slots[i] {
			if !slot.Valid || slot.String == "" {
				continue
			}
			rows = append(rows, EntryTagRow{EntryID: entryID, TagName: slot.String})
		}
	}
	type pair struct {
		entry int64
		name  string
	}
	return DistinctBy(rows, func(r EntryTagRow) pair { return pair{r.EntryID, r.TagName} })
}

// BuildEntryTags produces the unresolved bridge rows for the batch.
func BuildEntryTags(entries []NormalizedEntry) []EntryTagRow {
	return SplitTagSlots(entries).Melt()
}
