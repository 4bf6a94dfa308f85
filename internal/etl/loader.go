package etl

import (
	"context"
	"fmt"
)

// Stage names one step of a load run.
type Stage string

const (
	StageProjects  Stage = "projects"
	StageFetch     Stage = "fetch"
	StageUsers     Stage = "users"
	StageTasks     Stage = "tasks"
	StageTags      Stage = "tags"
	StageEntries   Stage = "entries"
	StageEntryTags Stage = "entry_tags"
)

// DefaultBaseYear is the first calendar year pulled when none is configured.
const DefaultBaseYear = 2019

// Options tunes a Loader.
type Options struct {
	// BaseYear is the first calendar year to extract entries for.
	BaseYear int
	// StrictForeignKeys turns any unresolved foreign key into a fatal error
	// instead of rejecting the affected rows.
	StrictForeignKeys bool
}

// StageResult summarizes one completed stage.
type StageResult struct {
	Stage      Stage
	Candidates int
	Inserted   int
	Rejected   []Unresolved
	// Renamed holds upstream-keyed dimension rows skipped because their id
	// is already stored under another name.
	Renamed []Renamed
	// Billed totals the billed amounts of the fetched entries. Only the
	// fetch stage sets it.
	Billed []Amount
}

// Renamed is a dimension candidate whose upstream id is already taken.
// The stored name wins.
type Renamed struct {
	Table string
	ID    int64
	Name  string
}

// Report summarizes a load run. On failure it holds the stages that completed.
type Report struct {
	Stages []StageResult
}

// Inserted returns the total number of rows appended across all tables.
func (r *Report) Inserted() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Inserted
	}
	return n
}

// Rejected returns the total number of rows rejected for unresolved keys.
func (r *Report) Rejected() int {
	n := 0
	for _, s := range r.Stages {
		n += len(s.Rejected)
	}
	return n
}

// Renamed returns the total number of dimension rows skipped as renames.
func (r *Report) Renamed() int {
	n := 0
	for _, s := range r.Stages {
		n += len(s.Renamed)
	}
	return n
}

// Billed returns the billed totals of the fetched entries, if the fetch
// stage completed.
func (r *Report) Billed() []Amount {
	res, _ := r.Result(StageFetch)
	return res.Billed
}

// Result returns the result of the named stage, if it completed.
func (r *Report) Result(stage Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

// Loader runs the incremental relational load: dimensions first, then the
// fact and bridge tables resolved against the freshly committed dimensions.
//
// Running two loaders against the same database at once is unsupported;
// the filter-then-append sequence is not guarded against concurrent writers.
type Loader struct {
	source Source
	store  Store
	logger Logger
	clock  Clock
	opts   Options
}

// NewLoader creates a Loader with the provided dependencies.
func NewLoader(source Source, store Store, logger Logger, clock Clock, opts Options) *Loader {
	if opts.BaseYear == 0 {
		opts.BaseYear = DefaultBaseYear
	}
	return &Loader{
		source: source,
		store:  store,
		logger: logger,
		clock:  clock,
		opts:   opts,
	}
}

type stage struct {
	name     Stage
	requires []Stage
	run      func(ctx context.Context, st *runState) (StageResult, error)
}

type runState struct {
	entries []NormalizedEntry
}

func (l *Loader) stages() []stage {
	return []stage{
		{name: StageProjects, run: l.loadProjects},
		{name: StageFetch, requires: []Stage{StageProjects}, run: l.fetchEntries},
		{name: StageUsers, requires: []Stage{StageFetch}, run: l.loadUsers},
		{name: StageTasks, requires: []Stage{StageFetch}, run: l.loadTasks},
		{name: StageTags, requires: []Stage{StageFetch}, run: l.loadTags},
		{name: StageEntries, requires: []Stage{StageProjects, StageUsers, StageTasks}, run: l.loadEntries},
		{name: StageEntryTags, requires: []Stage{StageEntries, StageTags}, run: l.loadEntryTags},
	}
}

// Run executes every stage in dependency order. The first failing stage
// aborts the run; stages committed before it stay committed.
func (l *Loader) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	st := &runState{}
	done := make(map[Stage]bool)

	for _, s := range l.stages() {
		for _, req := range s.requires {
			if !done[req] {
				return report, &StageError{Stage: s.name, Err: fmt.Errorf("prerequisite stage %s has not completed", req)}
			}
		}

		l.logger.Debug("stage started", "stage", string(s.name))
		res, err := s.run(ctx, st)
		if err != nil {
			l.logger.Error("stage failed", "stage", string(s.name), "error", err)
			return report, &StageError{Stage: s.name, Err: err}
		}
		res.Stage = s.name
		report.Stages = append(report.Stages, res)
		done[s.name] = true

		l.logger.Info("stage complete",
			"stage", string(s.name),
			"candidates", res.Candidates,
			"inserted", res.Inserted,
			"rejected", len(res.Rejected),
			"renamed", len(res.Renamed),
		)
	}
	return report, nil
}

func (l *Loader) loadProjects(ctx context.Context, _ *runState) (StageResult, error) {
	raw, err := l.source.ListProjects(ctx)
	if err != nil {
		return StageResult{}, &fetchError{what: "projects", err: err}
	}
	rows, err := ExtractProjects(raw)
	if err != nil {
		return StageResult{}, err
	}
	fresh, renamed, err := skipRenamed(ctx, l.store, l.logger, ProjectTable, rows,
		func(r ProjectRow) (int64, string) { return r.ID, r.Name })
	if err != nil {
		return StageResult{}, err
	}
	n, err := appendNew(ctx, l.store, ProjectTable, fresh, nil)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Candidates: len(rows), Inserted: n, Renamed: renamed}, nil
}

func (l *Loader) fetchEntries(ctx context.Context, st *runState) (StageResult, error) {
	projectIDs, err := l.store.ProjectIDs(ctx)
	if err != nil {
		return StageResult{}, fmt.Errorf("reading project ids: %w", err)
	}
	ranges := YearlyRanges(l.opts.BaseYear, l.clock.Now())

	raw, err := FetchEntries(ctx, l.source, projectIDs, ranges, l.logger)
	if err != nil {
		return StageResult{}, err
	}
	entries, err := Normalize(raw)
	if err != nil {
		return StageResult{}, err
	}
	for _, id := range ZeroDuration(entries) {
		l.logger.Warn("entry has zero duration", "entry", id)
	}

	st.entries = entries
	billed := BilledTotals(entries)
	l.logger.Info("entries fetched", "projects", len(projectIDs), "ranges", len(ranges), "records", len(entries))
	for _, a := range billed {
		l.logger.Debug("billed total", "currency", a.Currency, "amount", a.Total.String())
	}
	return StageResult{Candidates: len(entries), Billed: billed}, nil
}

func (l *Loader) loadUsers(ctx context.Context, st *runState) (StageResult, error) {
	rows := ExtractUsers(st.entries)
	fresh, renamed, err := skipRenamed(ctx, l.store, l.logger, UserTable, rows,
		func(r UserRow) (int64, string) { return r.ID, r.Name })
	if err != nil {
		return StageResult{}, err
	}
	n, err := appendNew(ctx, l.store, UserTable, fresh, nil)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Candidates: len(rows), Inserted: n, Renamed: renamed}, nil
}

func (l *Loader) loadTasks(ctx context.Context, st *runState) (StageResult, error) {
	rows := ExtractTasks(st.entries)
	n, err := appendNew(ctx, l.store, TaskTable, rows, func(r *TaskRow, id int64) { r.ID = id })
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Candidates: len(rows), Inserted: n}, nil
}

func (l *Loader) loadTags(ctx context.Context, st *runState) (StageResult, error) {
	rows := ExtractTags(st.entries)
	n, err := appendNew(ctx, l.store, TagTable, rows, func(r *TagRow, id int64) { r.ID = id })
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Candidates: len(rows), Inserted: n}, nil
}

func (l *Loader) loadEntries(ctx context.Context, st *runState) (StageResult, error) {
	rows := BuildEntries(st.entries)
	candidates := len(rows)

	tasks, err := l.store.Dimension(ctx, TaskTable.Name, "task_name")
	if err != nil {
		return StageResult{}, fmt.Errorf("reading task dimension: %w", err)
	}
	projects, err := l.store.ExistingKeys(ctx, ProjectTable.Name, []string{"id"})
	if err != nil {
		return StageResult{}, fmt.Errorf("reading project ids: %w", err)
	}
	users, err := l.store.ExistingKeys(ctx, UserTable.Name, []string{"id"})
	if err != nil {
		return StageResult{}, fmt.Errorf("reading user ids: %w", err)
	}

	var rejected, unres []Unresolved
	rows, unres = Resolve(rows, tasks, ForeignKey[EntryRow]{
		Table:     EntryTable.Name,
		Dimension: TaskTable.Name,
		On:        func(r EntryRow) string { return r.TaskName },
		Set:       func(r *EntryRow, id int64) { r.TaskID = id },
	})
	rejected = append(rejected, unres...)
	rows, unres = Require(rows, projects, EntryTable.Name, ProjectTable.Name, func(r EntryRow) int64 { return r.ProjectID })
	rejected = append(rejected, unres...)
	rows, unres = Require(rows, users, EntryTable.Name, UserTable.Name, func(r EntryRow) int64 { return r.UserID })
	rejected = append(rejected, unres...)

	if err := l.checkRejected(rejected); err != nil {
		return StageResult{}, err
	}
	n, err := appendNew(ctx, l.store, EntryTable, rows, nil)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Candidates: candidates, Inserted: n, Rejected: rejected}, nil
}

func (l *Loader) loadEntryTags(ctx context.Context, st *runState) (StageResult, error) {
	rows := BuildEntryTags(st.entries)
	candidates := len(rows)

	tags, err := l.store.Dimension(ctx, TagTable.Name, "tag_name")
	if err != nil {
		return StageResult{}, fmt.Errorf("reading tag dimension: %w", err)
	}
	entries, err := l.store.ExistingKeys(ctx, EntryTable.Name, []string{"id"})
	if err != nil {
		return StageResult{}, fmt.Errorf("reading entry ids: %w", err)
	}

	var rejected, unres []Unresolved
	rows, unres = Resolve(rows, tags, ForeignKey[EntryTagRow]{
		Table:     EntryTagTable.Name,
		Dimension: TagTable.Name,
		On:        func(r EntryTagRow) string { return r.TagName },
		Set:       func(r *EntryTagRow, id int64) { r.TagID = id },
	})
	rejected = append(rejected, unres...)
	rows, unres = Require(rows, entries, EntryTagTable.Name, EntryTable.Name, func(r EntryTagRow) int64 { return r.EntryID })
	rejected = append(rejected, unres...)

	if err := l.checkRejected(rejected); err != nil {
		return StageResult{}, err
	}
	n, err := appendNew(ctx, l.store, EntryTagTable, rows, nil)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Candidates: candidates, Inserted: n, Rejected: rejected}, nil
}

// checkRejected applies the unresolved foreign key policy: report every
// rejected row, and fail the stage when running strict.
func (l *Loader) checkRejected(rejected []Unresolved) error {
	for _, u := range rejected {
		l.logger.Warn("row rejected", "table", u.Table, "dimension", u.Dimension, "key", u.Key)
	}
	if l.opts.StrictForeignKeys && len(rejected) > 0 {
		return &UnresolvedError{Rows: rejected}
	}
	return nil
}

// skipRenamed drops name-new candidates of an upstream-keyed dimension whose
// id is already stored, or repeats an id earlier in the batch. Each one is
// logged and returned as Renamed.
func skipRenamed[T Row](ctx context.Context, store Store, logger Logger, table Table, candidates []T, ident func(T) (int64, string)) ([]T, []Renamed, error) {
	names, err := store.ExistingKeys(ctx, table.Name, table.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("reading existing keys of %s: %w", table.Name, err)
	}
	ids, err := store.ExistingKeys(ctx, table.Name, []string{"id"})
	if err != nil {
		return nil, nil, fmt.Errorf("reading ids of %s: %w", table.Name, err)
	}

	var renamed []Renamed
	fresh := make([]T, 0, len(candidates))
	for _, c := range FilterNew(candidates, names) {
		id, name := ident(c)
		k := KeyOf(id)
		if ids.Has(k) {
			logger.Warn("dimension row renamed upstream", "table", table.Name, "id", id, "name", name)
			renamed = append(renamed, Renamed{Table: table.Name, ID: id, Name: name})
			continue
		}
		ids.Add(k)
		fresh = append(fresh, c)
	}
	return fresh, renamed, nil
}

// appendNew filters candidates against the keys already in table and appends
// the residue. When renumber is set, the residue receives fresh ids after the
// table's current maximum.
func appendNew[T Row](ctx context.Context, store Store, table Table, candidates []T, renumber func(*T, int64)) (int, error) {
	existing, err := store.ExistingKeys(ctx, table.Name, table.Key)
	if err != nil {
		return 0, fmt.Errorf("reading existing keys of %s: %w", table.Name, err)
	}
	residue := FilterNew(candidates, existing)
	if len(residue) == 0 {
		return 0, nil
	}

	if renumber != nil {
		maxID, err := store.MaxID(ctx, table.Name)
		if err != nil {
			return 0, fmt.Errorf("reading max id of %s: %w", table.Name, err)
		}
		residue = Renumber(residue, maxID, renumber)
	}

	n, err := store.Append(ctx, table, asRows(residue))
	if err != nil {
		return 0, &writeError{table: table.Name, err: err}
	}
	return n, nil
}
