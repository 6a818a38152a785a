// Command migrate runs the embedded ledger migrations via goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # Apply all pending migrations
//	go run ./cmd/migrate down        # Roll back the last migration
//	go run ./cmd/migrate status      # Show migration status
//	go run ./cmd/migrate version     # Show current schema version
//	go run ./cmd/migrate redo        # Roll back and re-apply last migration
//
// The target database follows the server's STORAGE, DATABASE_URL and
// SQLITE_PATH settings.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/cryptoc/txguard/internal/config"
	"github.com/cryptoc/txguard/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		engine database.Engine
		dsn    string
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		engine, dsn = database.Postgres, cfg.DatabaseURL
	case config.StorageSQLite:
		engine, dsn = database.SQLite, cfg.SQLitePath
	default:
		log.Fatalf("STORAGE=%s has no schema to migrate", cfg.Storage)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, engine, dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }()

	command := os.Args[1]
	if err := db.Goose(ctx, command, os.Args[2:]...); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}
