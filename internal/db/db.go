// Package db owns the on-disk claims database: one SQLite file under
// the workspace's .claimline directory, shared by the CLI and the
// server.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dataDir = ".claimline"
	dbFile  = "claims.db"
)

// Path returns the claims database file for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dataDir, dbFile)
}

// Open creates the workspace data directory if missing and opens the
// claims database. WAL keeps ledger appends from blocking readers, and
// busy_timeout covers the CLI and a running server touching the same
// file.
func Open(workspace string) (*sql.DB, error) {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
