package etl_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"toggl-etl/internal/database"
	"toggl-etl/internal/etl"
	"toggl-etl/internal/testutil"
)

type loaderEnv struct {
	src    *testutil.FakeSource
	db     *database.SQLDatabase
	logger *testutil.RecordingLogger
}

func newLoaderEnv(t *testing.T) *loaderEnv {
	t.Helper()
	src := testutil.NewFakeSource(etl.RawProject{
		ID:        7,
		Name:      "alpha",
		Active:    "true",
		CreatedAt: "2020-01-15T08:00:00Z",
	})
	return &loaderEnv{
		src:    src,
		db:     testutil.NewTestDatabase(t),
		logger: testutil.NewRecordingLogger(),
	}
}

func (e *loaderEnv) loader(store etl.Store, strict bool) *etl.Loader {
	return etl.NewLoader(e.src, store, e.logger, testutil.FixedClock(), etl.Options{
		BaseYear:          2021,
		StrictForeignKeys: strict,
	})
}

func (e *loaderEnv) run(t *testing.T) *etl.Report {
	t.Helper()
	report, err := e.loader(e.db, false).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v\n%s", err, e.logger)
	}
	return report
}

func rawEntry(id int64, description string, tags etl.TagList) etl.RawEntry {
	return etl.RawEntry{
		ID:          id,
		ProjectID:   7,
		UserID:      3,
		User:        "ann",
		Description: description,
		Start:       "2021-03-01T09:00:00Z",
		End:         "2021-03-01T10:00:00Z",
		Updated:     "2021-03-01T10:00:00Z",
		IsBillable:  "true",
		Tags:        tags,
	}
}

func assertCounts(t *testing.T, db *database.SQLDatabase, want map[string]int64) {
	t.Helper()
	for table, n := range want {
		got, err := db.Count(context.Background(), table)
		if err != nil {
			t.Fatalf("Count(%s) error = %v", table, err)
		}
		if got != n {
			t.Errorf("%s has %d rows, want %d", table, got, n)
		}
	}
}

func TestLoader_Run(t *testing.T) {
	env := newLoaderEnv(t)
	env.src.AddEntries(
		rawEntry(1, "write docs", "x,y"),
		rawEntry(2, "write docs", ""),
	)

	report := env.run(t)

	assertCounts(t, env.db, map[string]int64{
		"toggl_project":   1,
		"toggl_user":      1,
		"toggl_task":      1,
		"toggl_tag":       2,
		"toggl_entry":     2,
		"toggl_entry_tag": 2,
	})
	if got := report.Inserted(); got != 9 {
		t.Errorf("Inserted() = %d, want 9", got)
	}
	if got := report.Rejected(); got != 0 {
		t.Errorf("Rejected() = %d, want 0", got)
	}
	if len(report.Stages) != 7 {
		t.Errorf("completed %d stages, want 7", len(report.Stages))
	}
	if res, ok := report.Result(etl.StageFetch); !ok || res.Candidates != 2 {
		t.Errorf("fetch result = %+v, %v, want 2 candidates", res, ok)
	}

	tags, err := env.db.Dimension(context.Background(), "toggl_tag", "tag_name")
	if err != nil {
		t.Fatalf("Dimension() error = %v", err)
	}
	if tags["x"] != 1 || tags["y"] != 2 {
		t.Errorf("tag ids = %v, want x=1 y=2", tags)
	}
}

func TestLoader_Run_secondRunIsNoop(t *testing.T) {
	env := newLoaderEnv(t)
	env.src.AddEntries(
		rawEntry(1, "write docs", "x,y"),
		rawEntry(2, "write docs", ""),
	)
	env.run(t)

	report := env.run(t)
	if got := report.Inserted(); got != 0 {
		t.Errorf("second Inserted() = %d, want 0", got)
	}
	assertCounts(t, env.db, map[string]int64{
		"toggl_tag":       2,
		"toggl_entry":     2,
		"toggl_entry_tag": 2,
	})
}

func TestLoader_Run_newDimensionRowsGetFreshIDs(t *testing.T) {
	ctx := context.Background()
	env := newLoaderEnv(t)
	env.src.AddEntries(rawEntry(1, "write docs", "x,y"))
	env.run(t)

	env.src.AddEntries(rawEntry(2, "review", "z,x"))
	report := env.run(t)

	if res, _ := report.Result(etl.StageTags); res.Inserted != 1 {
		t.Errorf("tags inserted = %d, want 1", res.Inserted)
	}
	tags, err := env.db.Dimension(ctx, "toggl_tag", "tag_name")
	if err != nil {
		t.Fatalf("Dimension() error = %v", err)
	}
	if tags["x"] != 1 || tags["y"] != 2 || tags["z"] != 3 {
		t.Errorf("tag ids = %v, want x=1 y=2 z=3", tags)
	}

	tasks, err := env.db.Dimension(ctx, "toggl_task", "task_name")
	if err != nil {
		t.Fatalf("Dimension() error = %v", err)
	}
	if tasks["write docs"] != 1 || tasks["review"] != 2 {
		t.Errorf("task ids = %v, want write docs=1 review=2", tasks)
	}

	bridge, err := env.db.ExistingKeys(ctx, "toggl_entry_tag", []string{"toggl_entry_id", "toggl_tag_id"})
	if err != nil {
		t.Fatalf("ExistingKeys() error = %v", err)
	}
	for _, pair := range [][2]int64{{1, 1}, {1, 2}, {2, 1}, {2, 3}} {
		if !bridge.Has(etl.KeyOf(pair[0], pair[1])) {
			t.Errorf("bridge row %v missing", pair)
		}
	}
	if len(bridge) != 4 {
		t.Errorf("bridge has %d rows, want 4", len(bridge))
	}
}

func orphanEntries(env *loaderEnv) {
	orphan := rawEntry(3, "write docs", "x")
	orphan.ProjectID = 8
	// Served under project 7 but referencing a project that is never listed.
	env.src.Entries[7] = append(env.src.Entries[7], orphan)
	env.src.AddEntries(rawEntry(1, "write docs", "x"))
}

func TestLoader_Run_unresolvedRowsAreRejected(t *testing.T) {
	env := newLoaderEnv(t)
	orphanEntries(env)

	report := env.run(t)

	assertCounts(t, env.db, map[string]int64{
		"toggl_entry":     1,
		"toggl_entry_tag": 1,
	})
	entries, _ := report.Result(etl.StageEntries)
	if len(entries.Rejected) != 1 || entries.Rejected[0].Dimension != "toggl_project" || entries.Rejected[0].Key != "8" {
		t.Errorf("entries rejected = %+v, want project 8", entries.Rejected)
	}
	bridge, _ := report.Result(etl.StageEntryTags)
	if len(bridge.Rejected) != 1 || bridge.Rejected[0].Dimension != "toggl_entry" {
		t.Errorf("entry tags rejected = %+v, want entry 3", bridge.Rejected)
	}
	if n := env.logger.Count("WARN", "row rejected"); n != 2 {
		t.Errorf("rejection warnings = %d, want 2", n)
	}
}

func TestLoader_Run_strictForeignKeys(t *testing.T) {
	env := newLoaderEnv(t)
	orphanEntries(env)

	report, err := env.loader(env.db, true).Run(context.Background())
	if !errors.Is(err, etl.ErrUnresolvedForeignKey) {
		t.Fatalf("Run() error = %v, want unresolved foreign key", err)
	}
	var se *etl.StageError
	if !errors.As(err, &se) || se.Stage != etl.StageEntries {
		t.Errorf("failing stage = %v, want entries", err)
	}
	var ue *etl.UnresolvedError
	if !errors.As(err, &ue) || len(ue.Rows) != 1 {
		t.Errorf("UnresolvedError = %v, want one row", err)
	}

	if _, ok := report.Result(etl.StageTags); !ok {
		t.Error("tags stage missing from report")
	}
	assertCounts(t, env.db, map[string]int64{
		"toggl_project":   1,
		"toggl_user":      1,
		"toggl_entry":     0,
		"toggl_entry_tag": 0,
	})
}

func TestLoader_Run_failures(t *testing.T) {
	t.Run("project listing fails", func(t *testing.T) {
		env := newLoaderEnv(t)
		env.src.ProjectsErr = errors.New("unauthorized")

		report, err := env.loader(env.db, false).Run(context.Background())
		if !errors.Is(err, etl.ErrFetch) {
			t.Errorf("Run() error = %v, want fetch failure", err)
		}
		if len(report.Stages) != 0 {
			t.Errorf("completed stages = %v, want none", report.Stages)
		}
	})

	t.Run("page fetch fails", func(t *testing.T) {
		env := newLoaderEnv(t)
		env.src.PageErr = errors.New("timeout")

		_, err := env.loader(env.db, false).Run(context.Background())
		var se *etl.StageError
		if !errors.As(err, &se) || se.Stage != etl.StageFetch || !errors.Is(err, etl.ErrFetch) {
			t.Errorf("Run() error = %v, want fetch failure in fetch stage", err)
		}
		assertCounts(t, env.db, map[string]int64{"toggl_project": 1, "toggl_user": 0})
	})

	t.Run("unparseable record rejects the batch", func(t *testing.T) {
		env := newLoaderEnv(t)
		bad := rawEntry(2, "write docs", "")
		bad.End = "soon"
		env.src.AddEntries(rawEntry(1, "write docs", ""), bad)

		_, err := env.loader(env.db, false).Run(context.Background())
		var pe *etl.ParseError
		if !errors.As(err, &pe) || pe.EntryID != 2 || pe.Field != "end" {
			t.Errorf("Run() error = %v, want parse failure of record 2", err)
		}
		if env.logger.Count("ERROR", "stage failed") != 1 {
			t.Errorf("expected one stage failure log\n%s", env.logger)
		}
		assertCounts(t, env.db, map[string]int64{"toggl_user": 0, "toggl_entry": 0})
	})

	t.Run("write failure aborts downstream stages", func(t *testing.T) {
		env := newLoaderEnv(t)
		env.src.AddEntries(rawEntry(1, "write docs", "x"))
		store := &failingStore{Store: env.db, table: "toggl_tag", err: errors.New("disk full")}

		report, err := env.loader(store, false).Run(context.Background())
		if !errors.Is(err, etl.ErrWrite) {
			t.Fatalf("Run() error = %v, want write failure", err)
		}
		var se *etl.StageError
		if !errors.As(err, &se) || se.Stage != etl.StageTags {
			t.Errorf("failing stage = %v, want tags", err)
		}
		if _, ok := report.Result(etl.StageTasks); !ok {
			t.Error("tasks stage should have completed before tags")
		}
		assertCounts(t, env.db, map[string]int64{
			"toggl_project": 1,
			"toggl_user":    1,
			"toggl_task":    1,
			"toggl_tag":     0,
			"toggl_entry":   0,
		})
	})
}

func TestLoader_Run_zeroDurationIsWarned(t *testing.T) {
	env := newLoaderEnv(t)
	instant := rawEntry(1, "write docs", "")
	instant.End = instant.Start
	env.src.AddEntries(instant, rawEntry(2, "write docs", ""))

	env.run(t)

	if n := env.logger.Count("WARN", "entry has zero duration"); n != 1 {
		t.Errorf("zero duration warnings = %d, want 1", n)
	}
	assertCounts(t, env.db, map[string]int64{"toggl_entry": 2})
}

func TestLoader_Run_noEntries(t *testing.T) {
	env := newLoaderEnv(t)

	report := env.run(t)

	if got := report.Inserted(); got != 1 {
		t.Errorf("Inserted() = %d, want only the project", got)
	}
	assertCounts(t, env.db, map[string]int64{"toggl_project": 1, "toggl_entry": 0})
}

// failingStore fails Append for one table and delegates everything else.
type failingStore struct {
	etl.Store
	table string
	err   error
}

func (s *failingStore) Append(ctx context.Context, table etl.Table, rows []etl.Row) (int, error) {
	if table.Name == s.table {
		return 0, s.err
	}
	return s.Store.Append(ctx, table, rows)
}

func TestLoader_Run_renamedUpstream(t *testing.T) {
	ctx := context.Background()

	t.Run("project and user renamed between runs", func(t *testing.T) {
		env := newLoaderEnv(t)
		env.src.AddEntries(rawEntry(1, "write docs", ""))
		env.run(t)

		env.src.Projects[0].Name = "alpha renamed"
		renamed := rawEntry(2, "write docs", "")
		renamed.User = "ann smith"
		env.src.AddEntries(renamed)

		report := env.run(t)

		assertCounts(t, env.db, map[string]int64{
			"toggl_project": 1,
			"toggl_user":    1,
			"toggl_entry":   2,
		})
		for _, tc := range []struct {
			stage etl.Stage
			want  etl.Renamed
		}{
			{etl.StageProjects, etl.Renamed{Table: "toggl_project", ID: 7, Name: "alpha renamed"}},
			{etl.StageUsers, etl.Renamed{Table: "toggl_user", ID: 3, Name: "ann smith"}},
		} {
			res, ok := report.Result(tc.stage)
			if !ok {
				t.Fatalf("stage %s did not complete", tc.stage)
			}
			if res.Inserted != 0 || len(res.Renamed) != 1 || res.Renamed[0] != tc.want {
				t.Errorf("%s result = %+v, want 0 inserted and renamed %+v", tc.stage, res, tc.want)
			}
		}
		if got := report.Renamed(); got != 2 {
			t.Errorf("Renamed() = %d, want 2", got)
		}
		if got := env.logger.Count("WARN", "dimension row renamed upstream"); got != 2 {
			t.Errorf("rename warnings = %d, want 2", got)
		}

		projects, err := env.db.Dimension(ctx, "toggl_project", "project_name")
		if err != nil {
			t.Fatalf("Dimension() error = %v", err)
		}
		if projects["alpha"] != 7 {
			t.Errorf("projects = %v, want the stored name alpha kept for id 7", projects)
		}
	})

	t.Run("user renamed within one batch", func(t *testing.T) {
		env := newLoaderEnv(t)
		later := rawEntry(2, "write docs", "")
		later.User = "ann smith"
		env.src.AddEntries(rawEntry(1, "write docs", ""), later)

		report := env.run(t)

		assertCounts(t, env.db, map[string]int64{
			"toggl_user":  1,
			"toggl_entry": 2,
		})
		res, _ := report.Result(etl.StageUsers)
		if res.Inserted != 1 || len(res.Renamed) != 1 || res.Renamed[0].Name != "ann smith" {
			t.Errorf("users result = %+v, want 1 inserted and ann smith renamed", res)
		}
	})
}

func TestLoader_Run_reportsBilledTotals(t *testing.T) {
	env := newLoaderEnv(t)
	first := rawEntry(1, "write docs", "")
	first.Billable = decimal.NewNullDecimal(decimal.RequireFromString("12.5"))
	first.Currency = "EUR"
	second := rawEntry(2, "write docs", "")
	second.Billable = decimal.NewNullDecimal(decimal.RequireFromString("0.25"))
	second.Currency = "EUR"
	env.src.AddEntries(first, second, rawEntry(3, "write docs", ""))

	report := env.run(t)

	got := report.Billed()
	if len(got) != 1 || got[0].String() != "12.75 EUR" {
		t.Errorf("Billed() = %v, want [12.75 EUR]", got)
	}
}
