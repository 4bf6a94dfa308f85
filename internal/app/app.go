package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"toggl-etl/internal/config"
	"toggl-etl/internal/database"
	"toggl-etl/internal/etl"
	"toggl-etl/internal/metrics"
	"toggl-etl/internal/model"
	"toggl-etl/internal/toggl"
)

// TogglApp is the application layer between the CLI and the load pipeline.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the DB lifecycle on Close.
type TogglApp struct {
	cfg     *config.Config
	db      *database.SQLDatabase
	source  etl.Source
	logger  etl.Logger
	clock   etl.Clock
	op      *LoadOperation
	logFile *os.File

	startedAt time.Time
	report    *etl.Report
}

// Options tunes how a TogglApp is built.
type Options struct {
	// Verbose enables debug logging.
	Verbose bool
}

// NewTogglApp creates a fully wired TogglApp from the given config.
// operation identifies the CLI command being run (e.g. "Load", "History").
// The caller must call Close when done.
func NewTogglApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*TogglApp, error) {
	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date (run 'toggl-etl db migrate'): %w", err)
	}

	runKey := uuid.New().String()
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(cfg.LogDir, runKey, level)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := newTogglApp(cfg, db, nil, &slogAdapter{l: logger}, etl.RealClock{}, NewLoadOperation(operation, runKey))
	a.logFile = logFile
	return a, nil
}

func newTogglApp(cfg *config.Config, db *database.SQLDatabase, source etl.Source, logger etl.Logger, clock etl.Clock, op *LoadOperation) *TogglApp {
	return &TogglApp{
		cfg:    cfg,
		db:     db,
		source: source,
		logger: logger,
		clock:  clock,
		op:     op,
	}
}

// openDatabase connects to the configured database. A memory database is
// always empty, so it is migrated on open.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.SQLDatabase, error) {
	db, err := database.NewDatabaseFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if cfg.Type == "memory" {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
	}
	return db, nil
}

// persistOperation records the load run in the database, giving it an auto-increment ID.
// This should only be called for the load command.
func (a *TogglApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	run, err := a.db.CreateLoadRun(ctx, a.op.RunKey, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting load run: %w", err)
	}
	a.op.ID = run.ID
	a.startedAt = run.StartedAt
	return nil
}

// Load runs the full pipeline against the configured workspace.
// The returned report is non-nil even on failure and holds the stages that
// completed before it.
func (a *TogglApp) Load(ctx context.Context, strict bool, baseYear int) (*etl.Report, error) {
	if err := a.persistOperation(ctx); err != nil {
		return nil, err
	}

	source, err := a.getSource()
	if err != nil {
		a.op.Fail()
		return nil, err
	}

	if baseYear == 0 {
		baseYear = a.cfg.Toggl.BaseYear
	}
	loader := etl.NewLoader(source, a.db, a.logger, a.clock, etl.Options{
		BaseYear:          baseYear,
		StrictForeignKeys: strict || a.cfg.Load.StrictForeignKeys,
	})

	a.logger.Info("load started", "run", a.op.ID, "workspace", a.cfg.Toggl.WorkspaceID, "base_year", baseYear)
	report, err := loader.Run(ctx)
	a.report = report
	a.op.Inserted = report.Inserted()
	if err != nil {
		a.op.Fail()
		return report, err
	}
	a.logger.Info("load finished", "run", a.op.ID, "inserted", report.Inserted(), "rejected", report.Rejected())
	return report, nil
}

func (a *TogglApp) getSource() (etl.Source, error) {
	if a.source != nil {
		return a.source, nil
	}
	c, err := toggl.NewClientFromConfig(a.cfg.Toggl)
	if err != nil {
		return nil, fmt.Errorf("creating toggl client: %w", err)
	}
	a.source = c
	return c, nil
}

// GetHistory returns the most recent load runs.
func (a *TogglApp) GetHistory(ctx context.Context, limit int) ([]model.LoadRun, error) {
	return a.db.ListLoadRuns(ctx, limit)
}

// GetTableCounts returns the row count of every star schema table.
func (a *TogglApp) GetTableCounts(ctx context.Context) ([]model.TableCount, error) {
	return a.db.TableCounts(ctx)
}

// RunKey is the identifier shared by the log lines and the load run record.
func (a *TogglApp) RunKey() string {
	return a.op.RunKey
}

// Close finalizes the operation and closes all resources.
// For persisted operations the load run record receives its final status.
func (a *TogglApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		finishedAt := a.clock.Now()
		// The caller's context may already be cancelled; the run still needs closing.
		err := a.db.FinishLoadRun(context.Background(), a.op.ID, a.op.Status, a.op.Inserted, finishedAt)
		if err != nil {
			firstErr = fmt.Errorf("finishing load run: %w", err)
		}
		if err := a.writeMetrics(finishedAt); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// writeMetrics replaces the configured Prometheus textfile with the outcome
// of this run.
func (a *TogglApp) writeMetrics(finishedAt time.Time) error {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return nil
	}
	rec := metrics.NewRecorder()
	rec.ObserveLoad(a.report, a.op.Status == model.LoadRunSucceeded, finishedAt.Sub(a.startedAt), finishedAt)
	return rec.WriteTextfile(path)
}

// SchemaStatus describes the destination database for 'db status'.
type SchemaStatus struct {
	// Err is nil when the schema is at the latest migration.
	Err    error
	Counts []model.TableCount
}

// Migrate applies all pending migrations to the configured database.
func Migrate(ctx context.Context, cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	return nil
}

// GetSchemaStatus checks the schema version and, when current, counts the
// rows of every table.
func GetSchemaStatus(ctx context.Context, cfg *config.Config) (*SchemaStatus, error) {
	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	status := &SchemaStatus{Err: db.CheckMigrations()}
	if status.Err != nil {
		return status, nil
	}
	counts, err := db.TableCounts(ctx)
	if err != nil {
		return nil, err
	}
	status.Counts = counts
	return status, nil
}
