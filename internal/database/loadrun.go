package database

import (
	"context"
	"fmt"
	"time"

	"toggl-etl/internal/etl"
	"toggl-etl/internal/model"
)

// CreateLoadRun records the start of a load run and returns it with its id.
func (s *SQLDatabase) CreateLoadRun(ctx context.Context, runKey string, startedAt time.Time) (*model.LoadRun, error) {
	run := &model.LoadRun{
		RunKey:    runKey,
		StartedAt: startedAt.UTC(),
		Status:    model.LoadRunRunning,
	}
	query := s.db.Rebind(`INSERT INTO load_run (run_key, started_at, status, inserted)
		VALUES (?, ?, ?, 0) RETURNING id`)
	if err := s.db.GetContext(ctx, &run.ID, query, run.RunKey, run.StartedAt, run.Status); err != nil {
		return nil, fmt.Errorf("creating load run: %w", err)
	}
	return run, nil
}

// FinishLoadRun sets the terminal status of a load run.
func (s *SQLDatabase) FinishLoadRun(ctx context.Context, id int64, status string, inserted int, finishedAt time.Time) error {
	query := s.db.Rebind(`UPDATE load_run SET status = ?, inserted = ?, finished_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, status, int64(inserted), finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing load run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing load run %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("load run %d not found", id)
	}
	return nil
}

// ListLoadRuns returns the most recent load runs, newest first.
func (s *SQLDatabase) ListLoadRuns(ctx context.Context, limit int) ([]model.LoadRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.db.Rebind(`SELECT id, run_key, started_at, finished_at, status, inserted
		FROM load_run ORDER BY id DESC LIMIT ?`)
	var runs []model.LoadRun
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("listing load runs: %w", err)
	}
	return runs, nil
}

// TableCounts returns the row count of every star schema table.
func (s *SQLDatabase) TableCounts(ctx context.Context) ([]model.TableCount, error) {
	counts := make([]model.TableCount, 0, len(etl.Tables))
	for _, t := range etl.Tables {
		n, err := s.Count(ctx, t.Name)
		if err != nil {
			return nil, err
		}
		counts = append(counts, model.TableCount{Table: t.Name, Rows: n})
	}
	return counts, nil
}
