package store

import (
	_ "github.com/lib/pq"
)

type PostgresStore struct{ sqlStore }

func NewPostgres(connStr string) *PostgresStore {
	return &PostgresStore{sqlStore{dsn: connStr, d: dialect{
		driver:   "postgres",
		numbered: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
			`CREATE TABLE IF NOT EXISTS alerts (
			id SERIAL PRIMARY KEY,
			name TEXT,
			type TEXT,
			settings TEXT
		);`,
		},
		wipe: []string{
			"TRUNCATE TABLE settings",
			"TRUNCATE TABLE alerts RESTART IDENTITY CASCADE",
		},
		afterImport: []string{
			"SELECT setval('alerts_id_seq', (SELECT MAX(id) FROM alerts))",
		},
	}}}
}
