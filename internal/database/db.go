// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registered as "pgx"
	"github.com/vinovest/sqlx"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Dialect identifies the SQL backend behind a DSN.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFor derives the dialect from the DSN. Anything that is not a
// postgres URL is treated as a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// DialectOf returns the dialect of an open connection.
func DialectOf(db *sqlx.DB) Dialect {
	if db.DriverName() == "pgx" {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open creates a new database connection and applies pending migrations.
func Open(dsn string) (*sqlx.DB, error) {
	conn, err := Connect(dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(conn.DB, DialectOf(conn)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// Connect opens the database without touching the schema.
func Connect(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		dsn = "./data/app.db"
	}

	switch DialectFor(dsn) {
	case DialectPostgres:
		return openPostgres(dsn)
	default:
		return openSQLite(dsn)
	}
}

func openPostgres(dsn string) (*sqlx.DB, error) {
	conn, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func openSQLite(dsn string) (*sqlx.DB, error) {
	inMemory := isInMemory(dsn)

	// Create directory for file-based databases
	if !inMemory {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}

	// Add default SQLite parameters if not present
	dsn = addDefaultParams(dsn)

	// Open database with modernc.org/sqlite (pure-Go, CGO-free)
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Every connection to :memory: opens its own empty database.
	if inMemory {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
	}
	conn.SetConnMaxLifetime(time.Hour)

	// Configure SQLite for better performance
	if err := configureSQLite(context.Background(), conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

func isInMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// addDefaultParams adds recommended SQLite parameters if not already present.
// Pragmas passed in the DSN apply to every pooled connection.
func addDefaultParams(dsn string) string {
	defaults := []struct{ marker, param string }{
		{"_txlock", "_txlock=immediate"},
		{"busy_timeout", "_pragma=busy_timeout(5000)"},
		{"foreign_keys", "_pragma=foreign_keys(1)"},
	}

	for _, d := range defaults {
		if !strings.Contains(dsn, d.marker) {
			separator := "?"
			if strings.Contains(dsn, "?") {
				separator = "&"
			}
			dsn += separator + d.param
		}
	}

	return dsn
}

// configureSQLite sets PRAGMAs for optimal performance.
func configureSQLite(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return err
		}
	}

	return nil
}
