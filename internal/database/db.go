package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (and creates if needed) the sqlite file in WAL mode.
func Open(sqlitePath string) (*sql.DB, error) {
	if sqlitePath != ":memory:" {
		dir := filepath.Dir(sqlitePath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer: the fetch log is append-only and sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	pragmas := []struct {
		stmt string
		desc string
	}{
		{`PRAGMA journal_mode = WAL;`, "set sqlite WAL"},
		{`PRAGMA busy_timeout = 5000;`, "set sqlite busy timeout"},
		{`PRAGMA foreign_keys = ON;`, "enable sqlite foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.desc, err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}
