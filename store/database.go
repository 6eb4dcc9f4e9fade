// Package store persists deployment records, decryption signatures and
// session marks in a local sqlite database.
package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Database represents a database connection
type Database struct {
	db *sqlx.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS deployments (
		chain_id    INTEGER NOT NULL,
		task_id     TEXT    NOT NULL,
		network     TEXT    NOT NULL,
		contract    TEXT    NOT NULL,
		address     TEXT    NOT NULL,
		tx_hash     TEXT    NOT NULL,
		deployed_at DATETIME NOT NULL,
		PRIMARY KEY (chain_id, task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS decryption_signatures (
		user_address  TEXT    NOT NULL,
		chain_id      INTEGER NOT NULL,
		contracts     TEXT    NOT NULL,
		start_ts      INTEGER NOT NULL,
		duration_days INTEGER NOT NULL,
		payload       TEXT    NOT NULL,
		created_at    DATETIME NOT NULL,
		PRIMARY KEY (user_address, chain_id, contracts)
	)`,
	`CREATE TABLE IF NOT EXISTS session_marks (
		chain_id   INTEGER NOT NULL,
		account    TEXT    NOT NULL,
		kind       TEXT    NOT NULL,
		artwork_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (chain_id, account, kind, artwork_id)
	)`,
}

// Open opens (or creates) the sqlite database at path and applies the
// schema.
func Open(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) migrate() error {
	return d.Transaction(func(tx *sqlx.Tx) error {
		for i, stmt := range migrations {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", i, err)
			}
		}
		return nil
	})
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// GetDB returns the sqlx.DB instance
func (d *Database) GetDB() *sqlx.DB {
	return d.db
}

// Transaction executes a function within a transaction
func (d *Database) Transaction(fn func(*sqlx.Tx) error) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
