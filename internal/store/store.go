// Package store persists settings and alert providers in SQLite, Postgres or
// memory.
package store

import (
	"errors"
	"strings"

	"go-portwatch/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Init() error

	// Settings
	Get(key string) (string, error)
	Set(key, value string) error
	All() (map[string]string, error)

	// Alerts
	GetAllAlerts() ([]models.AlertConfig, error)
	AddAlert(cfg models.AlertConfig) (int, error)
	DeleteAlert(id int) error

	// Backup & Restore
	ExportData() (models.Backup, error)
	ImportData(data models.Backup) error

	Close() error
}

// Open picks a backend from dsn: postgres URLs go to Postgres, ":memory:"
// or "memory" to the in-memory store, anything else is a SQLite path.
func Open(dsn string) (Store, error) {
	var s Store
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s = NewPostgres(dsn)
	case dsn == "memory" || dsn == ":memory:":
		s = NewMemory()
	default:
		s = NewSQLite(dsn)
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}
