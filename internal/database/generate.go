package database

// This file documents code generation for the database package.
//
// To regenerate schema.sql and schema_postgres.sql from the migrations:
//   go generate ./internal/database

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
