package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the attempts table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS fetch_attempts (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		url TEXT NOT NULL,
		destination TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		UNIQUE(run_id, attempt)
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create fetch_attempts table: %w", err)
	}

	return db, nil
}
