package store

import (
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct{ sqlStore }

func NewSQLite(path string) *SQLiteStore {
	return &SQLiteStore{sqlStore{dsn: path, d: dialect{
		driver: "sqlite3",
		schema: []string{`
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		type TEXT,
		settings TEXT
	);`},
		wipe: []string{
			"DELETE FROM settings",
			"DELETE FROM alerts",
			"DELETE FROM sqlite_sequence WHERE name='alerts'",
		},
	}}}
}
