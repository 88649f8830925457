package store

import (
	"maps"
	"sort"
	"sync"

	"go-portwatch/internal/models"
)

// MemoryStore keeps everything in process. Used by tests and "-db :memory:".
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]string
	alerts   map[int]models.AlertConfig
	nextID   int
}

func NewMemory() *MemoryStore {
	return &MemoryStore{settings: map[string]string{}, alerts: map[int]models.AlertConfig{}, nextID: 1}
}

func (m *MemoryStore) Init() error { return nil }

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	m.settings[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) All() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.settings), nil
}

func (m *MemoryStore) GetAllAlerts() ([]models.AlertConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AlertConfig, 0, len(m.alerts))
	for _, a := range m.alerts {
		a.Settings = maps.Clone(a.Settings)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AddAlert(cfg models.AlertConfig) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.ID = m.nextID
	cfg.Settings = maps.Clone(cfg.Settings)
	m.alerts[cfg.ID] = cfg
	m.nextID++
	return cfg.ID, nil
}

func (m *MemoryStore) DeleteAlert(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	return nil
}

func (m *MemoryStore) ExportData() (models.Backup, error) {
	settings, _ := m.All()
	alerts, _ := m.GetAllAlerts()
	return models.Backup{Settings: settings, Alerts: alerts}, nil
}

func (m *MemoryStore) ImportData(data models.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = maps.Clone(data.Settings)
	if m.settings == nil {
		m.settings = map[string]string{}
	}
	m.alerts = map[int]models.AlertConfig{}
	m.nextID = 1
	for _, a := range data.Alerts {
		a.Settings = maps.Clone(a.Settings)
		m.alerts[a.ID] = a
		if a.ID >= m.nextID {
			m.nextID = a.ID + 1
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
