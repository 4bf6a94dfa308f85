package etl

import "time"

// ProjectRow is a row of the project dimension. The id comes from upstream.
type ProjectRow struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	Active    bool
}

func (r ProjectRow) Key() Key { return KeyOf(r.Name) }

func (r ProjectRow) Values() []any {
	return []any{r.ID, r.Name, r.CreatedAt, r.Active}
}

// UserRow is a row of the user dimension. The id comes from upstream.
type UserRow struct {
	ID   int64
	Name string
}

func (r UserRow) Key() Key { return KeyOf(r.Name) }

func (r UserRow) Values() []any { return []any{r.ID, r.Name} }

// TaskRow is a row of the task dimension with a locally synthesized id.
type TaskRow struct {
	ID   int64
	Name string
}

func (r TaskRow) Key() Key { return KeyOf(r.Name) }

func (r TaskRow) Values() []any { return []any{r.ID, r.Name} }

// TagRow is a row of the tag dimension with a locally synthesized id.
type TagRow struct {
	ID   int64
	Name string
}

func (r TagRow) Key() Key { return KeyOf(r.Name) }

func (r TagRow) Values() []any { return []any{r.ID, r.Name} }

// EntryRow is a row of the entry fact table. TaskName carries the natural
// key used to resolve TaskID and is not written.
type EntryRow struct {
	ID        int64
	ProjectID int64
	TaskID    int64
	UserID    int64
	TaskName  string
	Start     time.Time
	End       time.Time
	Updated   time.Time
}

func (r EntryRow) Key() Key { return KeyOf(r.ID) }

func (r EntryRow) Values() []any {
	return []any{r.ID, r.ProjectID, r.TaskID, r.UserID, r.Start, r.End, r.Updated}
}

// EntryTagRow is a row of the entry-to-tag bridge table. TagName carries the
// natural key used to resolve TagID and is not written.
type EntryTagRow struct {
	EntryID int64
	TagID   int64
	TagName string
}

func (r EntryTagRow) Key() Key { return KeyOf(r.EntryID, r.TagID) }

func (r EntryTagRow) Values() []any { return []any{r.EntryID, r.TagID} }
