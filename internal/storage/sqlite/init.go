package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the schema if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS cached_files (
		id INTEGER PRIMARY KEY,
		url TEXT UNIQUE,
		local_path TEXT,
		status TEXT DEFAULT 'transferring',
		downloaded_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS queue_items (
		position INTEGER PRIMARY KEY AUTOINCREMENT,
		episode_id TEXT UNIQUE,
		enclosure_url TEXT
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
