// Package db opens the workspace-local SQLite store backing the durable
// change history.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// The store lives in a hidden directory next to the schemas it describes, so
// removing a workspace removes its history with it.
const (
	storeDir  = ".gridwell"
	storeFile = "gridwell.db"
)

type Config struct {
	Workspace string
}

// Path returns where the history database lives for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, storeDir, storeFile)
}

// Open creates the store directory if needed and opens the database with
// foreign keys enforced.
func Open(cfg Config) (*sql.DB, error) {
	target := Path(cfg.Workspace)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", target)
	return sql.Open("sqlite", dsn)
}
