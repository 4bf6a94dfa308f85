package database

import (
	_ "embed"
	"fmt"
	"strings"

	"toggl-etl/internal/database/migrations"
)

// Schema is the SQLite schema produced by applying every migration.
// Tests apply it directly instead of running the migrations.
//
//go:embed schema.sql
var Schema string

// PostgresSchema is the PostgreSQL schema: every up migration in order.
//
//go:embed schema_postgres.sql
var PostgresSchema string

// SchemaHeader is the banner at the top of a generated schema file.
func SchemaHeader(dialect migrations.Dialect) string {
	return fmt.Sprintf(`-- This file is auto-generated from migration files.
-- DO NOT EDIT MANUALLY. Run 'go generate ./internal/database' to regenerate.
-- Source: internal/database/migrations/files/%s/*.sql

`, dialect)
}

// RenderScripts joins the up migrations of dialect into one script.
func RenderScripts(dialect migrations.Dialect) (string, error) {
	scripts, err := migrations.UpScripts(dialect)
	if err != nil {
		return "", err
	}
	return strings.Join(scripts, "\n\n") + "\n", nil
}
