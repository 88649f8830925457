package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go-portwatch/internal/models"

	"github.com/goccy/go-yaml"
)

type Config struct {
	Server     ServerConfig         `yaml:"server"`
	SSH        SSHConfig            `yaml:"ssh"`
	Database   DatabaseConfig       `yaml:"database"`
	Log        LogConfig            `yaml:"log"`
	Connection ConnectionConfig     `yaml:"connection"`
	Monitor    MonitorConfig        `yaml:"monitor"`
	Alerts     []models.AlertConfig `yaml:"alerts"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	AdminSecret string `yaml:"admin_secret"`
}

type SSHConfig struct {
	Enabled        *bool  `yaml:"enabled,omitempty"`
	Port           int    `yaml:"port"`
	HostKeyPath    string `yaml:"host_key_path"`
	AuthorizedKeys string `yaml:"authorized_keys"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // SQLite path, postgres:// URL or :memory:
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json or logfmt
	File   string `yaml:"file"`
}

type ConnectionConfig struct {
	Endpoint             string  `yaml:"endpoint"`
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`
	ReconnectInitial     string  `yaml:"reconnect_initial"`
	ReconnectMax         string  `yaml:"reconnect_max"`
	Multiplier           float64 `yaml:"multiplier"`
	HandshakeTimeout     string  `yaml:"handshake_timeout"`

	// Parsed durations (filled after load)
	ReconnectInitialDur time.Duration `yaml:"-"`
	ReconnectMaxDur     time.Duration `yaml:"-"`
	HandshakeTimeoutDur time.Duration `yaml:"-"`
}

type MonitorConfig struct {
	MaxRetries         int      `yaml:"max_retries"`
	InitialDelay       string   `yaml:"initial_delay"`
	MaxDelay           string   `yaml:"max_delay"`
	Multiplier         float64  `yaml:"multiplier"`
	ProbeTimeout       string   `yaml:"probe_timeout"`
	UserAgent          string   `yaml:"user_agent"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	QuickPorts         []int    `yaml:"quick_ports"`
	URLs               []string `yaml:"urls"` // watched at startup

	InitialDelayDur time.Duration `yaml:"-"`
	MaxDelayDur     time.Duration `yaml:"-"`
	ProbeTimeoutDur time.Duration `yaml:"-"`
}

// SSHEnabled defaults to true when the key is absent.
func (c SSHConfig) SSHEnabled() bool { return c.Enabled == nil || *c.Enabled }

// Load reads path, or returns the defaults when path is empty.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(nil)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := validateAndNormalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides values from PORTWATCH_* variables and re-validates.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PORTWATCH_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("PORTWATCH_ADMIN_SECRET"); v != "" {
		c.Server.AdminSecret = v
	}
	if v := getenv("PORTWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("PORTWATCH_ENDPOINT"); v != "" {
		c.Connection.Endpoint = v
	}
	return validateAndNormalize(c)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}

	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 23234
	}
	if cfg.SSH.HostKeyPath == "" {
		cfg.SSH.HostKeyPath = ".ssh/id_ed25519"
	}
	if cfg.SSH.AuthorizedKeys == "" {
		cfg.SSH.AuthorizedKeys = "authorized_keys"
	}

	if strings.TrimSpace(cfg.Database.URL) == "" {
		cfg.Database.URL = "portwatch.db"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	c := &cfg.Connection
	if strings.TrimSpace(c.Endpoint) == "" {
		c.Endpoint = "ws://localhost:25566"
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectInitial == "" {
		c.ReconnectInitial = "5s"
	}
	if c.ReconnectMax == "" {
		c.ReconnectMax = "30s"
	}
	if c.Multiplier == 0 {
		c.Multiplier = 1.5
	}
	if c.HandshakeTimeout == "" {
		c.HandshakeTimeout = "10s"
	}

	m := &cfg.Monitor
	if m.MaxRetries <= 0 {
		m.MaxRetries = 100
	}
	if m.InitialDelay == "" {
		m.InitialDelay = "25ms"
	}
	if m.MaxDelay == "" {
		m.MaxDelay = "10s"
	}
	if m.Multiplier == 0 {
		m.Multiplier = 1.5
	}
	if m.ProbeTimeout == "" {
		m.ProbeTimeout = "5s"
	}
	if strings.TrimSpace(m.UserAgent) == "" {
		m.UserAgent = "portwatch/1.0"
	}
	if len(m.QuickPorts) == 0 {
		m.QuickPorts = []int{9100, 10101, 10100}
	}
}

func validateAndNormalize(cfg *Config) error {
	var err error

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("config: invalid log format %q (use text, json or logfmt)", cfg.Log.Format)
	}

	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return fmt.Errorf("config: ssh port %d out of range", cfg.SSH.Port)
	}

	c := &cfg.Connection
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	u, perr := url.Parse(c.Endpoint)
	if perr != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("config: connection endpoint %q must be a ws:// or wss:// url", c.Endpoint)
	}
	if c.Multiplier < 1 {
		return errors.New("config: connection multiplier must be >= 1")
	}
	if c.ReconnectInitialDur, err = positive("connection.reconnect_initial", c.ReconnectInitial); err != nil {
		return err
	}
	if c.ReconnectMaxDur, err = positive("connection.reconnect_max", c.ReconnectMax); err != nil {
		return err
	}
	if c.HandshakeTimeoutDur, err = positive("connection.handshake_timeout", c.HandshakeTimeout); err != nil {
		return err
	}

	m := &cfg.Monitor
	if m.Multiplier < 1 {
		return errors.New("config: monitor multiplier must be >= 1")
	}
	if m.InitialDelayDur, err = positive("monitor.initial_delay", m.InitialDelay); err != nil {
		return err
	}
	if m.MaxDelayDur, err = positive("monitor.max_delay", m.MaxDelay); err != nil {
		return err
	}
	if m.ProbeTimeoutDur, err = positive("monitor.probe_timeout", m.ProbeTimeout); err != nil {
		return err
	}
	for _, p := range m.QuickPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("config: quick port %d out of range", p)
		}
	}
	for i, raw := range m.URLs {
		m.URLs[i] = strings.TrimSpace(raw)
		if !strings.HasPrefix(m.URLs[i], "http://") && !strings.HasPrefix(m.URLs[i], "https://") {
			return fmt.Errorf("config: monitor url %q must start with http:// or https://", raw)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Alerts))
	for i := range cfg.Alerts {
		a := &cfg.Alerts[i]
		a.Name = strings.TrimSpace(a.Name)
		a.Type = strings.ToLower(strings.TrimSpace(a.Type))
		if a.Name == "" {
			return fmt.Errorf("config: alert[%d] missing name", i)
		}
		if _, ok := seen[a.Name]; ok {
			return fmt.Errorf("config: duplicate alert name %q", a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

func positive(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be > 0", field)
	}
	return d, nil
}

// Settings are the values stored settings fall back to.
func (c *Config) Settings() models.Settings {
	return models.Settings{
		EndpointURL:  c.Connection.Endpoint,
		MaxRetries:   c.Monitor.MaxRetries,
		InitialDelay: int(c.Monitor.InitialDelayDur.Milliseconds()),
		MaxDelay:     int(c.Monitor.MaxDelayDur.Milliseconds()),
		CustomURLs:   strings.Join(c.Monitor.URLs, "\n"),
	}
}
