// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

func prepare(dialect Dialect) (string, error) {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	switch dialect {
	case DialectPostgres:
		if err := goose.SetDialect("postgres"); err != nil {
			return "", err
		}
		return "migrations/postgres", nil
	case DialectSQLite:
		if err := goose.SetDialect("sqlite3"); err != nil {
			return "", err
		}
		return "migrations/sqlite", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// RunMigrations runs all pending goose migrations.
func RunMigrations(db *sql.DB, dialect Dialect) error {
	dir, err := prepare(dialect)
	if err != nil {
		return err
	}
	return goose.Up(db, dir)
}

// MigrateDown rolls back the last migration.
func MigrateDown(db *sql.DB, dialect Dialect) error {
	dir, err := prepare(dialect)
	if err != nil {
		return err
	}
	return goose.Down(db, dir)
}

// MigrationVersion returns the currently applied schema version.
func MigrationVersion(db *sql.DB, dialect Dialect) (int64, error) {
	if _, err := prepare(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
