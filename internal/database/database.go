// Package database opens the ledger database and applies the embedded
// schema. Postgres (lib/pq) and SQLite (glebarez/go-sqlite) are supported;
// both are accessed through sqlx.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var postgresSchema embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteSchema embed.FS

// Engine identifies the SQL dialect behind a DB.
type Engine string

const (
	Postgres Engine = "postgres"
	SQLite   Engine = "sqlite"
)

// ErrUnknownEngine is returned for engines other than Postgres and SQLite.
var ErrUnknownEngine = errors.New("database: unknown engine")

func init() {
	// the glebarez driver registers as "sqlite", which sqlx does not map by default
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB is a sqlx handle that remembers its engine.
type DB struct {
	*sqlx.DB
	Engine Engine
}

// Open connects to the database and verifies the connection.
//
// For SQLite, dsn is a file path or ":memory:". The pool is limited to a
// single connection: SQLite serializes writers anyway, and an in-memory
// database only exists on the connection that created it.
func Open(ctx context.Context, engine Engine, dsn string) (*DB, error) {
	var (
		conn *sqlx.DB
		err  error
	)

	switch engine {
	case Postgres:
		conn, err = sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("database: open postgres: %w", err)
		}
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	case SQLite:
		conn, err = sqlx.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("database: open sqlite: %w", err)
		}
		conn.SetMaxOpenConns(1)
		conn.SetConnMaxIdleTime(0)
		conn.SetConnMaxLifetime(0)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("database: ping %s: %w", engine, err)
	}

	if engine == SQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("database: enable foreign keys: %w", err)
		}
	}

	return &DB{DB: conn, Engine: engine}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// goose keeps its base FS and dialect in package globals
var gooseMu sync.Mutex

// Schema returns the embedded migration tree and directory for an engine,
// plus the goose dialect name.
func Schema(engine Engine) (fs.FS, string, string, error) {
	switch engine {
	case Postgres:
		return postgresSchema, "migrations/postgres", "postgres", nil
	case SQLite:
		return sqliteSchema, "migrations/sqlite", "sqlite3", nil
	default:
		return nil, "", "", fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

// Migrate applies every pending migration.
func (db *DB) Migrate(ctx context.Context) error {
	return db.Goose(ctx, "up")
}

// Goose runs an arbitrary goose command (up, down, status, version, redo,
// up-to N, down-to N) against the embedded schema.
func (db *DB) Goose(ctx context.Context, command string, args ...string) error {
	fsys, dir, dialect, err := Schema(db.Engine)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.RunWithOptionsContext(ctx, command, db.DB.DB, dir, args, goose.WithAllowMissing()); err != nil {
		return fmt.Errorf("database: goose %s: %w", command, err)
	}
	return nil
}

// IsPostgres reports whether row locks and serializable isolation apply.
func (db *DB) IsPostgres() bool {
	return db.Engine == Postgres
}
