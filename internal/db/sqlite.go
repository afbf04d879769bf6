package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteConnection opens a file-backed SQLite database for single-node
// deployments and tests.
//
// SQLite allows one writer at a time, so the pool is pinned to a single
// connection; concurrent transactions queue on the pool instead of failing
// with SQLITE_BUSY.
func NewSQLiteConnection(path string, pingTimeout time.Duration) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty SQLite path")
	}
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := ping(db, pingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return db, nil
}
