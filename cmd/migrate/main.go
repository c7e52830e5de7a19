package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pranav412-code/Flight-Tracker/internal/db"
	"github.com/pranav412-code/Flight-Tracker/internal/db/dialect"
	"github.com/pranav412-code/Flight-Tracker/internal/db/migrations"
)

func main() {
	// Parse command line flags
	driver := flag.String("driver", "sqlite", "Database driver (sqlite or postgres)")
	dbURL := flag.String("db", "./data/flights.db", "Database connection string")
	rollback := flag.Bool("rollback", false, "Rollback the last migration")
	flag.Parse()

	if err := run(*driver, *dbURL, *rollback); err != nil {
		log.Printf("Migration failed: %v", err)
		os.Exit(1)
	}
}

// run opens the store and migrates it
func run(driver, dbURL string, rollback bool) error {
	store, err := db.New(driver, dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing database: %v\n", err)
		}
	}()

	return runMigration(store.DB(), store.Dialect(), rollback)
}

// runMigration applies pending migrations, or rolls back the last applied one
func runMigration(conn *sql.DB, d dialect.Dialect, rollback bool) error {
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(conn, d)
	migrationList := migrations.All(d)

	if rollback {
		if err := migrator.Rollback(migrationList); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	}

	if err := migrator.Migrate(migrationList); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
