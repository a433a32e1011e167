// Package journal is the append-only log of release stage events.
//
// The default backend is a SQLite file in the state directory. A DSN starting
// with postgres:// or postgresql:// selects PostgreSQL through pgx, so a team
// can share one journal across CI runners.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	sqliteDialect dialect = iota
	postgresDialect
)

// DB wraps the journal database connection.
type DB struct {
	conn    *sql.DB
	dialect dialect
}

// IsPostgres reports whether dsn addresses a PostgreSQL server.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open opens or creates the journal at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open journal: empty DSN")
	}

	d := &DB{dialect: sqliteDialect}
	driver := "sqlite"
	if IsPostgres(dsn) {
		d.dialect = postgresDialect
		driver = "pgx"
	} else if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	d.conn = conn

	if d.dialect == sqliteDialect {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if d.dialect == sqliteDialect {
		if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
	}
	if err := d.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) schemaV1() []string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == postgresDialect {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS release_events (
    id          ` + id + `,
    run_id      TEXT NOT NULL,
    stage       TEXT NOT NULL,
    event       TEXT NOT NULL CHECK(event IN ('started','succeeded','failed','skipped')),
    version     TEXT,
    detail      TEXT,
    created_at  TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_release_run ON release_events(run_id, id)`,
	}
}

// Migrate applies the journal schema. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	var count int
	err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range d.schemaV1() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, d.rebind("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)"), now()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders into PostgreSQL's $n form.
func (d *DB) rebind(query string) string {
	if d.dialect != postgresDialect {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
