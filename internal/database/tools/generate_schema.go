// Command generate_schema renders the full schema of each dialect from its
// migrations. Run it from the module root via go generate.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"toggl-etl/internal/database"
	"toggl-etl/internal/database/migrations"
)

type target struct {
	dialect migrations.Dialect
	file    string
	render  func() (string, error)
}

var targets = []target{
	{migrations.SQLite, "schema.sql", sqliteSchema},
	{migrations.Postgres, "schema_postgres.sql", postgresSchema},
}

func main() {
	for _, t := range targets {
		body, err := t.render()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s schema: %v\n", t.dialect, err)
			os.Exit(1)
		}

		outPath := filepath.Join("internal", "database", t.file)
		if err := os.WriteFile(outPath, []byte(database.SchemaHeader(t.dialect)+body), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "writing %s: %v\n", outPath, err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
}

// sqliteSchema migrates a scratch in-memory database and dumps what SQLite
// recorded, tables before indexes.
func sqliteSchema() (string, error) {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return "", err
	}
	defer db.Close()

	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		return "", err
	}
	return dumpSQLiteMaster(db)
}

func dumpSQLiteMaster(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 1 ELSE 2 END, name
	`)
	if err != nil {
		return "", fmt.Errorf("listing schema objects: %w", err)
	}
	defer rows.Close()

	var stmts []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning schema object: %w", err)
		}
		stmts = append(stmts, stmt)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading schema objects: %w", err)
	}
	return strings.Join(stmts, "\n\n") + "\n", nil
}

// postgresSchema concatenates the up migrations; there is no server to
// apply them against at generate time.
func postgresSchema() (string, error) {
	return database.RenderScripts(migrations.Postgres)
}
