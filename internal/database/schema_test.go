package database

import (
	"strings"
	"testing"

	"toggl-etl/internal/database/migrations"
)

func TestPostgresSchema_upToDate(t *testing.T) {
	body, err := RenderScripts(migrations.Postgres)
	if err != nil {
		t.Fatalf("RenderScripts() error = %v", err)
	}
	if want := SchemaHeader(migrations.Postgres) + body; PostgresSchema != want {
		t.Error("schema_postgres.sql is stale; run 'go generate ./internal/database'")
	}
}

func TestSchemaHeader(t *testing.T) {
	for _, d := range []migrations.Dialect{migrations.SQLite, migrations.Postgres} {
		if got := SchemaHeader(d); !strings.Contains(got, "migrations/files/"+string(d)+"/*.sql") {
			t.Errorf("SchemaHeader(%s) = %q, want the %s migration source", d, got, d)
		}
	}
	if !strings.HasPrefix(Schema, SchemaHeader(migrations.SQLite)) {
		t.Error("schema.sql does not start with the generated header")
	}
}
