package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the SQLite database
type DB struct {
	*sql.DB
	now func() time.Time
}

// Open opens or creates the database
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// go-sqlite3 connections each hold their own PRAGMA state
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// the CLI and the server may share one file
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db, now: time.Now}, nil
}

// migrate adds columns introduced after a database file was first created
func migrate(db *sql.DB) error {
	columns := []struct{ table, name, def string }{
		{"inbound_plans", "claimed_status", "TEXT NOT NULL DEFAULT ''"},
		{"inbound_plans", "claimed_at", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, c := range columns {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, c.table, c.name).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.name, c.def)); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", c.table, c.name, err)
		}
	}
	return nil
}
