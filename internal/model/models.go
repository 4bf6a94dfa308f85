package model

import "time"

// LoadRun status values.
const (
	LoadRunRunning   = "running"
	LoadRunSucceeded = "succeeded"
	LoadRunFailed    = "failed"
)

// LoadRun records one invocation of the load pipeline.
type LoadRun struct {
	ID         int64      `db:"id"`
	RunKey     string     `db:"run_key"` // UUID shared with the log lines of the run
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"` // nil while running or after a crash
	Status     string     `db:"status"`
	Inserted   int64      `db:"inserted"` // rows appended across all tables
}

// Finished reports whether the run reached a terminal status.
func (r LoadRun) Finished() bool {
	return r.FinishedAt != nil && r.Status != LoadRunRunning
}

// Duration is the wall time of a finished run, or zero.
func (r LoadRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TableCount is the number of rows held by one table.
type TableCount struct {
	Table string
	Rows  int64
}
