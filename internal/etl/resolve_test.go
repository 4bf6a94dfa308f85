package etl

import "testing"

func taskFK() ForeignKey[EntryRow] {
	return ForeignKey[EntryRow]{
		Table:     EntryTable.Name,
		Dimension: TaskTable.Name,
		On:        func(r EntryRow) string { return r.TaskName },
		Set:       func(r *EntryRow, id int64) { r.TaskID = id },
	}
}

func TestResolve(t *testing.T) {
	dim := Dimension{"write docs": 4, "review": 9}

	t.Run("substitutes surrogate ids", func(t *testing.T) {
		rows := []EntryRow{
			{ID: 1, TaskName: "review"},
			{ID: 2, TaskName: "write docs"},
			{ID: 3, TaskName: "review"},
		}
		got, unresolved := Resolve(rows, dim, taskFK())
		if len(unresolved) != 0 {
			t.Fatalf("unresolved = %v, want none", unresolved)
		}
		want := []int64{9, 4, 9}
		for i, r := range got {
			if r.TaskID != want[i] {
				t.Errorf("row %d TaskID = %d, want %d", r.ID, r.TaskID, want[i])
			}
		}
		if rows[0].TaskID != 0 {
			t.Error("Resolve() mutated its input")
		}
	})

	t.Run("rejects unmatched rows and keeps order", func(t *testing.T) {
		rows := []EntryRow{
			{ID: 1, TaskName: "review"},
			{ID: 2, TaskName: "unknown"},
			{ID: 3, TaskName: "write docs"},
		}
		got, unresolved := Resolve(rows, dim, taskFK())
		if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
			t.Errorf("resolved = %v, want rows 1 and 3", got)
		}
		if len(unresolved) != 1 {
			t.Fatalf("len(unresolved) = %d, want 1", len(unresolved))
		}
		u := unresolved[0]
		if u.Table != "toggl_entry" || u.Dimension != "toggl_task" || u.Key != "unknown" {
			t.Errorf("unresolved = %+v", u)
		}
		if u.RowKey != KeyOf(int64(2)) {
			t.Errorf("RowKey = %q, want key of entry 2", u.RowKey)
		}
	})

	t.Run("empty dimension rejects everything", func(t *testing.T) {
		got, unresolved := Resolve([]EntryRow{{ID: 1, TaskName: "review"}}, Dimension{}, taskFK())
		if len(got) != 0 || len(unresolved) != 1 {
			t.Errorf("Resolve() = %v, %v, want 0 resolved and 1 unresolved", got, unresolved)
		}
	})

	t.Run("matching is exact", func(t *testing.T) {
		_, unresolved := Resolve([]EntryRow{{ID: 1, TaskName: "Review"}}, dim, taskFK())
		if len(unresolved) != 1 {
			t.Errorf("Resolve() matched a differently cased key")
		}
	})
}

func TestRequire(t *testing.T) {
	rows := []EntryRow{
		{ID: 1, ProjectID: 7},
		{ID: 2, ProjectID: 8},
		{ID: 3, ProjectID: 7},
	}
	ids := NewKeySet(KeyOf(int64(7)))

	kept, unresolved := Require(rows, ids, EntryTable.Name, ProjectTable.Name, func(r EntryRow) int64 { return r.ProjectID })
	if len(kept) != 2 || kept[0].ID != 1 || kept[1].ID != 3 {
		t.Errorf("kept = %v, want rows 1 and 3", kept)
	}
	if len(unresolved) != 1 || unresolved[0].Key != "8" || unresolved[0].Dimension != "toggl_project" {
		t.Errorf("unresolved = %v, want project 8", unresolved)
	}
}

func TestUnresolved_String(t *testing.T) {
	u := Unresolved{Table: "toggl_entry_tag", Dimension: "toggl_tag", Key: "x"}
	if got := u.String(); got != "toggl_entry_tag -> toggl_tag[x]" {
		t.Errorf("String() = %q", got)
	}
}
