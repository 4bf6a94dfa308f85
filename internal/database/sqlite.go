package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"toggl-etl/internal/database/migrations"
	"toggl-etl/internal/etl"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver ("pgx")
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// SQLDatabase implements etl.Store on top of SQLite or PostgreSQL.
// It holds a single connection for the lifetime of a run.
type SQLDatabase struct {
	db      *sqlx.DB
	dialect migrations.Dialect
	path    string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLDatabase{
		db:      sqlx.NewDb(db, "sqlite3"),
		dialect: migrations.SQLite,
		path:    path,
	}, nil
}

// NewPostgresDatabase connects to PostgreSQL using a pgx connection string.
func NewPostgresDatabase(ctx context.Context, dsn string) (*SQLDatabase, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The migrate driver pins a connection of its own for the life of the pool.
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &SQLDatabase{
		db:      db,
		dialect: migrations.Postgres,
	}, nil
}

// NewDatabaseFromDB wraps an existing database connection. driverName is the
// database/sql driver the connection was opened with; it selects the
// placeholder style and migration set.
func NewDatabaseFromDB(db *sql.DB, driverName string) *SQLDatabase {
	dialect := migrations.SQLite
	bindName := driverName
	if driverName == "pgx" || driverName == "postgres" {
		dialect = migrations.Postgres
	}
	if driverName == "sqlmock" {
		bindName = "sqlite3"
	}
	return &SQLDatabase{
		db:      sqlx.NewDb(db, bindName),
		dialect: dialect,
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: PRAGMAs are per connection and :memory: is per connection.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// idents validates that every name is a plain lowercase SQL identifier.
// Table and column names are interpolated into statements.
func idents(names ...string) error {
	for _, n := range names {
		if !identPattern.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

// Store operations

func (s *SQLDatabase) ExistingKeys(ctx context.Context, table string, columns []string) (etl.KeySet, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no key columns given for %s", table)
	}
	if err := idents(append([]string{table}, columns...)...); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", strings.Join(columns, ", "), table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying keys of %s: %w", table, err)
	}
	defer rows.Close()

	keys := etl.NewKeySet()
	vals := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning keys of %s: %w", table, err)
		}
		keys.Add(etl.KeyOf(vals...))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading keys of %s: %w", table, err)
	}
	return keys, nil
}

func (s *SQLDatabase) Dimension(ctx context.Context, table string, keyColumn string) (etl.Dimension, error) {
	if err := idents(table, keyColumn); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT id, %s FROM %s", keyColumn, table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying dimension %s: %w", table, err)
	}
	defer rows.Close()

	dim := etl.Dimension{}
	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("scanning dimension %s: %w", table, err)
		}
		dim[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading dimension %s: %w", table, err)
	}
	return dim, nil
}

func (s *SQLDatabase) MaxID(ctx context.Context, table string) (int64, error) {
	if err := idents(table); err != nil {
		return 0, err
	}
	var maxID int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", table)
	if err := s.db.GetContext(ctx, &maxID, query); err != nil {
		return 0, fmt.Errorf("querying max id of %s: %w", table, err)
	}
	return maxID, nil
}

// Append inserts all rows in one transaction; either every row is written or none.
func (s *SQLDatabase) Append(ctx context.Context, table etl.Table, rows []etl.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := idents(append([]string{table.Name}, table.Columns...)...); err != nil {
		return 0, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(table.Columns)), ", ")
	insert := s.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table.Name, strings.Join(table.Columns, ", "), placeholders))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("preparing insert into %s: %w", table.Name, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		vals := row.Values()
		if len(vals) != len(table.Columns) {
			return 0, fmt.Errorf("row %d has %d values, %s has %d columns", i, len(vals), table.Name, len(table.Columns))
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return 0, fmt.Errorf("inserting row %d into %s: %w", i, table.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return len(rows), nil
}

func (s *SQLDatabase) ProjectIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	query := fmt.Sprintf("SELECT DISTINCT id FROM %s ORDER BY id", etl.ProjectTable.Name)
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("listing project ids: %w", err)
	}
	return ids, nil
}

// Count returns the number of rows in table.
func (s *SQLDatabase) Count(ctx context.Context, table string) (int64, error) {
	if err := idents(table); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		return 0, fmt.Errorf("counting rows of %s: %w", table, err)
	}
	return n, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
// It is empty for PostgreSQL.
func (s *SQLDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB, s.dialect)
}

// Migrate applies all pending migrations.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db.DB, s.dialect)
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLDatabase implements etl.Store
var _ etl.Store = (*SQLDatabase)(nil)
