// Package database opens pooled database/sql connections for Postgres (pgx),
// MySQL and SQLite, rewrites placeholders per dialect and applies the
// embedded schema migrations from deploy/migrations.
package database
