package etl

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func rawProject(id int64, name string) RawProject {
	return RawProject{
		ID:        id,
		Name:      name,
		Active:    "true",
		CreatedAt: "2020-03-01T12:00:00+02:00",
		At:        "2021-01-01T00:00:00Z",
	}
}

func entry(id int64, user int64, userName, description, tags string) NormalizedEntry {
	ts := time.Date(2021, 1, 1, 9, 0, 0, 0, time.UTC)
	e := NormalizedEntry{
		ID:          id,
		ProjectID:   7,
		UserID:      user,
		User:        userName,
		Description: description,
		Start:       ts,
		End:         ts.Add(time.Hour),
		Updated:     ts.Add(time.Hour),
	}
	if tags != "" {
		e.Tags = sql.NullString{String: tags, Valid: true}
	}
	return e
}

func TestExtractProjects(t *testing.T) {
	t.Run("selects dimension columns in UTC", func(t *testing.T) {
		p := rawProject(7, "alpha")
		p.Active = "False"
		got, err := ExtractProjects([]RawProject{p})
		if err != nil {
			t.Fatalf("ExtractProjects() error = %v", err)
		}
		want := ProjectRow{
			ID:        7,
			Name:      "alpha",
			CreatedAt: time.Date(2020, 3, 1, 10, 0, 0, 0, time.UTC),
			Active:    false,
		}
		if len(got) != 1 {
			t.Fatalf("ExtractProjects() = %+v, want [%+v]", got, want)
		}
		if got[0].ID != want.ID || got[0].Name != want.Name || got[0].Active != want.Active || !got[0].CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("ExtractProjects() = %+v, want %+v", got[0], want)
		}
		if got[0].CreatedAt.Location() != time.UTC {
			t.Errorf("CreatedAt location = %v, want UTC", got[0].CreatedAt.Location())
		}
	})

	t.Run("first project per name wins", func(t *testing.T) {
		got, err := ExtractProjects([]RawProject{rawProject(1, "alpha"), rawProject(2, "beta"), rawProject(3, "alpha")})
		if err != nil {
			t.Fatalf("ExtractProjects() error = %v", err)
		}
		if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
			t.Errorf("ExtractProjects() = %+v, want projects 1 and 2", got)
		}
	})

	tests := []struct {
		name      string
		mutate    func(*RawProject)
		wantField string
	}{
		{"bad created_at", func(p *RawProject) { p.CreatedAt = "" }, "created_at"},
		{"bad at", func(p *RawProject) { p.At = "later" }, "at"},
		{"bad active", func(p *RawProject) { p.Active = "on" }, "active"},
		{"bad template", func(p *RawProject) { p.Template = "2" }, "template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := rawProject(5, "alpha")
			tt.mutate(&p)
			_, err := ExtractProjects([]RawProject{p})
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("ExtractProjects() error = %v, want *ParseError", err)
			}
			if pe.Field != tt.wantField || pe.EntryID != 5 {
				t.Errorf("ParseError = %+v, want field %s of record 5", pe, tt.wantField)
			}
		})
	}
}

func TestExtractUsers(t *testing.T) {
	entries := []NormalizedEntry{
		entry(1, 3, "ann", "a", ""),
		entry(2, 4, "bob", "a", ""),
		entry(3, 3, "ann", "b", ""),
		entry(4, 9, "ann", "c", ""),
	}

	got := ExtractUsers(entries)
	want := []UserRow{{ID: 3, Name: "ann"}, {ID: 4, Name: "bob"}}
	if len(got) != len(want) {
		t.Fatalf("ExtractUsers() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ExtractUsers()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExtractTasks(t *testing.T) {
	entries := []NormalizedEntry{
		entry(1, 3, "ann", "write docs", ""),
		entry(2, 3, "ann", "review", ""),
		entry(3, 3, "ann", "write docs", ""),
		entry(4, 3, "ann", "", ""),
	}

	got := ExtractTasks(entries)
	want := []TaskRow{{ID: 1, Name: "write docs"}, {ID: 2, Name: "review"}, {ID: 3, Name: ""}}
	if len(got) != len(want) {
		t.Fatalf("ExtractTasks() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ExtractTasks()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if got := ExtractTasks(nil); len(got) != 0 {
		t.Errorf("ExtractTasks(nil) = %+v, want empty", got)
	}
}

func TestExtractTags(t *testing.T) {
	entries := []NormalizedEntry{
		entry(1, 3, "ann", "a", "y, x"),
		entry(2, 3, "ann", "a", ""),
		entry(3, 3, "ann", "a", "x, b"),
	}

	got := ExtractTags(entries)
	want := []TagRow{{ID: 1, Name: "b"}, {ID: 2, Name: "x"}, {ID: 3, Name: "y"}}
	if len(got) != len(want) {
		t.Fatalf("ExtractTags() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ExtractTags()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	t.Run("no tags", func(t *testing.T) {
		if got := ExtractTags([]NormalizedEntry{entry(1, 3, "ann", "a", "")}); len(got) != 0 {
			t.Errorf("ExtractTags() = %+v, want empty", got)
		}
	})
}

func TestRenumber(t *testing.T) {
	rows := []TagRow{{ID: 1, Name: "b"}, {ID: 2, Name: "x"}}

	got := Renumber(rows, 10, func(r *TagRow, id int64) { r.ID = id })
	if got[0].ID != 11 || got[1].ID != 12 {
		t.Errorf("Renumber() ids = [%d %d], want [11 12]", got[0].ID, got[1].ID)
	}
	if got[0].Name != "b" || got[1].Name != "x" {
		t.Errorf("Renumber() reordered rows: %+v", got)
	}
	if rows[0].ID != 1 {
		t.Error("Renumber() mutated its input")
	}
}
