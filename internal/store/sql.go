package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go-portwatch/internal/models"
)

type dialect struct {
	driver string
	schema []string
	wipe   []string
	// afterImport realigns id sequences once rows were inserted with explicit ids.
	afterImport []string
	numbered    bool
}

// sqlStore holds the queries shared by the SQLite and Postgres backends.
type sqlStore struct {
	dsn string
	d   dialect
	db  *sql.DB
}

func (s *sqlStore) Init() error {
	db, err := sql.Open(s.d.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.d.driver, err)
	}
	if s.d.driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	for _, q := range s.d.schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return fmt.Errorf("create schema: %w", err)
		}
	}
	s.db = db
	return nil
}

// q rewrites ? placeholders into $1, $2... for Postgres.
func (s *sqlStore) q(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Get(key string) (string, error) {
	var v string
	err := s.db.QueryRow(s.q("SELECT value FROM settings WHERE key = ?"), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *sqlStore) Set(key, value string) error {
	_, err := s.db.Exec(s.q("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value"), key, value)
	return err
}

func (s *sqlStore) All() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *sqlStore) GetAllAlerts() ([]models.AlertConfig, error) {
	rows, err := s.db.Query("SELECT id, name, type, settings FROM alerts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []models.AlertConfig
	for rows.Next() {
		var a models.AlertConfig
		var settingsJSON string
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &settingsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(settingsJSON), &a.Settings); err != nil {
			return nil, fmt.Errorf("alert %d settings: %w", a.ID, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *sqlStore) AddAlert(cfg models.AlertConfig) (int, error) {
	settingsJSON, err := json.Marshal(cfg.Settings)
	if err != nil {
		return 0, err
	}
	var id int
	err = s.db.QueryRow(s.q("INSERT INTO alerts (name, type, settings) VALUES (?, ?, ?) RETURNING id"), cfg.Name, cfg.Type, string(settingsJSON)).Scan(&id)
	return id, err
}

func (s *sqlStore) DeleteAlert(id int) error {
	res, err := s.db.Exec(s.q("DELETE FROM alerts WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) ExportData() (models.Backup, error) {
	settings, err := s.All()
	if err != nil {
		return models.Backup{}, err
	}
	alerts, err := s.GetAllAlerts()
	if err != nil {
		return models.Backup{}, err
	}
	return models.Backup{Settings: settings, Alerts: alerts}, nil
}

// ImportData replaces everything in one transaction.
func (s *sqlStore) ImportData(data models.Backup) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range s.d.wipe {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
	}
	for k, v := range data.Settings {
		if _, err := tx.Exec(s.q("INSERT INTO settings (key, value) VALUES (?, ?)"), k, v); err != nil {
			return fmt.Errorf("import setting %s: %w", k, err)
		}
	}
	for _, a := range data.Alerts {
		settingsJSON, err := json.Marshal(a.Settings)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(s.q("INSERT INTO alerts (id, name, type, settings) VALUES (?, ?, ?, ?)"), a.ID, a.Name, a.Type, string(settingsJSON)); err != nil {
			return fmt.Errorf("import alert %d: %w", a.ID, err)
		}
	}
	if len(data.Alerts) > 0 {
		for _, q := range s.d.afterImport {
			if _, err := tx.Exec(q); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
