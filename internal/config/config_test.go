package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 23234, cfg.SSH.Port)
	assert.True(t, cfg.SSH.SSHEnabled())
	assert.Equal(t, "portwatch.db", cfg.Database.URL)
	assert.Equal(t, "ws://localhost:25566", cfg.Connection.Endpoint)
	assert.Equal(t, 10, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Connection.ReconnectInitialDur)
	assert.Equal(t, 30*time.Second, cfg.Connection.ReconnectMaxDur)
	assert.Equal(t, 100, cfg.Monitor.MaxRetries)
	assert.Equal(t, 25*time.Millisecond, cfg.Monitor.InitialDelayDur)
	assert.Equal(t, 10*time.Second, cfg.Monitor.MaxDelayDur)
	assert.Equal(t, 5*time.Second, cfg.Monitor.ProbeTimeoutDur)
	assert.Equal(t, []int{9100, 10101, 10100}, cfg.Monitor.QuickPorts)

	s := cfg.Settings()
	assert.Equal(t, 25, s.InitialDelay)
	assert.Equal(t, 10000, s.MaxDelay)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
ssh:
  enabled: false
log:
  level: DEBUG
  format: json
connection:
  endpoint: wss://notify.example/ws
  reconnect_initial: 1s
monitor:
  max_retries: 3
  urls:
    - " http://localhost:9100 "
alerts:
  - name: ops
    type: Webhook
    settings:
      url: http://hooks.example
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.False(t, cfg.SSH.SSHEnabled())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Second, cfg.Connection.ReconnectInitialDur)
	assert.Equal(t, 3, cfg.Monitor.MaxRetries)
	assert.Equal(t, []string{"http://localhost:9100"}, cfg.Monitor.URLs)
	require.Len(t, cfg.Alerts, 1)
	assert.Equal(t, "webhook", cfg.Alerts[0].Type)
	assert.Equal(t, "http://hooks.example", cfg.Alerts[0].Settings["url"])
	assert.Equal(t, "http://localhost:9100", cfg.Settings().CustomURLs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "server: [", "parse yaml"},
		{"http endpoint", "connection:\n  endpoint: http://x", "ws:// or wss://"},
		{"bad duration", "monitor:\n  initial_delay: soon", "monitor.initial_delay"},
		{"negative duration", "monitor:\n  max_delay: -1s", "must be > 0"},
		{"bad format", "log:\n  format: xml", "log format"},
		{"bad quick port", "monitor:\n  quick_ports: [70000]", "quick port"},
		{"bad url", "monitor:\n  urls: [\"ftp://x\"]", "must start with http"},
		{"duplicate alert", "alerts:\n  - {name: a, type: slack}\n  - {name: a, type: slack}", "duplicate alert"},
		{"multiplier", "connection:\n  multiplier: 0.5", "multiplier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	env := map[string]string{
		"PORTWATCH_DATABASE_URL": "postgres://db/portwatch",
		"PORTWATCH_ADMIN_SECRET": "s3cret",
		"PORTWATCH_LOG_LEVEL":    "WARN",
		"PORTWATCH_ENDPOINT":     "ws://remote:1",
	}
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "postgres://db/portwatch", cfg.Database.URL)
	assert.Equal(t, "s3cret", cfg.Server.AdminSecret)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "ws://remote:1", cfg.Connection.Endpoint)

	env["PORTWATCH_ENDPOINT"] = "nope"
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}
