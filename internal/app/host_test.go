package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go-portwatch/internal/backoff"
	"go-portwatch/internal/config"
	"go-portwatch/internal/models"
	"go-portwatch/internal/probe"
	"go-portwatch/internal/store"
	"go-portwatch/internal/wsclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refuseDialer struct{}

func (refuseDialer) Dial(context.Context, string) (wsclient.Conn, error) {
	return nil, errors.New("refused")
}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func neverFire(time.Duration, func()) wsclient.Timer { return idleTimer{} }

type screen struct {
	mu  sync.Mutex
	got []models.Notification
}

func (s *screen) Notify(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *screen) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, n := range s.got {
		out = append(out, n.Title)
	}
	return out
}

func newTestHost(t *testing.T, p probe.Prober, st store.Store) (*Host, *screen) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	if st == nil {
		st = store.NewMemory()
	}
	direct := &screen{}
	h, err := New(Deps{
		Config:    cfg,
		Store:     st,
		Prober:    p,
		Dialer:    refuseDialer{},
		AfterFunc: neverFire,
		Direct:    direct,
	})
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)
	return h, direct
}

func up(context.Context, string) bool   { return true }
func down(context.Context, string) bool { return false }

func TestStartMonitorUsesStoredSettings(t *testing.T) {
	h, direct := newTestHost(t, probe.ProberFunc(up), nil)

	require.NoError(t, h.StartMonitor([]string{"http://localhost:9100"}, nil))
	require.Eventually(t, func() bool {
		st := h.MonitorStatus()
		return len(st.Events) == 1 && st.Events[0].State == models.StateSuccess && len(st.Active) == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, title := range direct.titles() {
			if title == "Port is up" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	var lines []string
	for _, e := range h.Logs() {
		lines = append(lines, e.Text)
	}
	assert.Contains(t, lines, "http://localhost:9100 is up (attempt 1)")
}

func TestStartMonitorRejectsBadInput(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(up), nil)

	assert.ErrorIs(t, h.StartMonitor(nil, nil), ErrNoURLs)
	assert.ErrorIs(t, h.StartMonitor([]string{"http://x"}, &backoff.Config{}), backoff.ErrInvalidConfig)
	assert.ErrorIs(t, h.StartCustom(), ErrNoURLs)
}

func TestQuickMonitorAndStop(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(down), nil)
	require.NoError(t, h.SaveSettings(models.Settings{
		EndpointURL:  "ws://localhost:25566",
		MaxRetries:   5,
		InitialDelay: int(time.Hour / time.Millisecond),
		MaxDelay:     int(time.Hour / time.Millisecond),
	}))

	require.NoError(t, h.QuickMonitor("http://devbox"))
	want := []string{"http://devbox:10100", "http://devbox:10101", "http://devbox:9100"}
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, h.ActiveMonitors()) }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, h.StopMonitor("http://devbox:9100"))
	assert.False(t, h.StopMonitor("http://devbox:9100"))
	assert.Equal(t, 2, h.StopAll())
	assert.Empty(t, h.ActiveMonitors())
}

func TestStartCustomUsesCustomURLs(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(up), nil)
	s := h.Settings()
	s.CustomURLs = " http://a:1 \n\n http://b:2 "
	require.NoError(t, h.SaveSettings(s))

	require.NoError(t, h.StartCustom())
	require.Eventually(t, func() bool { return len(h.MonitorStatus().Events) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSaveSettings(t *testing.T) {
	st := store.NewMemory()
	h, _ := newTestHost(t, probe.ProberFunc(up), st)

	bad := h.Settings()
	bad.EndpointURL = "http://not-ws"
	assert.ErrorIs(t, h.SaveSettings(bad), wsclient.ErrInvalidEndpoint)

	bad = h.Settings()
	bad.MaxRetries = 0
	assert.ErrorIs(t, h.SaveSettings(bad), backoff.ErrInvalidConfig)

	good := models.Settings{EndpointURL: "ws://other:1", MaxRetries: 3, InitialDelay: 10, MaxDelay: 100, CustomURLs: "http://a"}
	require.NoError(t, h.SaveSettings(good))
	assert.Equal(t, good, h.Settings())
	assert.Equal(t, "ws://other:1", h.ConnectionStatus().EndpointURL)

	loaded, err := store.LoadSettings(st, models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, good, loaded)
}

func TestUpdateEndpointPersists(t *testing.T) {
	st := store.NewMemory()
	h, _ := newTestHost(t, probe.ProberFunc(up), st)

	require.NoError(t, h.UpdateEndpoint("wss://notify.example/ws"))
	v, err := st.Get(store.KeyEndpointURL)
	require.NoError(t, err)
	assert.Equal(t, "wss://notify.example/ws", v)
	assert.Equal(t, "wss://notify.example/ws", h.Settings().EndpointURL)

	assert.ErrorIs(t, h.UpdateEndpoint("ftp://x"), wsclient.ErrInvalidEndpoint)
}

func TestUpdateEndpointJournalsOnlyChanges(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(up), nil)
	changes := func() int {
		n := 0
		for _, e := range h.Logs() {
			if strings.HasPrefix(e.Text, "endpoint set to") {
				n++
			}
		}
		return n
	}

	require.NoError(t, h.UpdateEndpoint("wss://notify.example/ws"))
	assert.Equal(t, 1, changes())

	require.NoError(t, h.UpdateEndpoint("wss://notify.example/ws"))
	require.NoError(t, h.UpdateEndpoint(""))
	assert.Equal(t, 1, changes())
	assert.Equal(t, "wss://notify.example/ws", h.ConnectionStatus().EndpointURL)
}

func TestStoredSettingsLoadedAtStartup(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, store.SaveEndpoint(st, "ws://stored:9"))
	h, _ := newTestHost(t, probe.ProberFunc(up), st)
	assert.Equal(t, "ws://stored:9", h.ConnectionStatus().EndpointURL)
	assert.Equal(t, 100, h.Settings().MaxRetries)
}

func TestSendTestWhileDisconnectedWarns(t *testing.T) {
	h, direct := newTestHost(t, probe.ProberFunc(up), nil)
	h.SendTest()
	assert.Contains(t, direct.titles(), "Not connected")
}

func TestConnectionFailuresScheduleReconnect(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(up), nil)
	h.Start()
	require.Eventually(t, func() bool { return h.ConnectionStatus().ReconnectAttempts == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Disconnect()
	st := h.ConnectionStatus()
	assert.False(t, st.Connected)
	assert.Equal(t, 0, st.ReconnectAttempts)
}

func TestAlerts(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(up), nil)

	_, err := h.AddAlert(models.AlertConfig{Name: "x", Type: "pager"})
	assert.Error(t, err)

	id, err := h.AddAlert(models.AlertConfig{Name: "ops", Type: "webhook", Settings: map[string]string{"url": "http://hooks"}})
	require.NoError(t, err)
	alerts, err := h.Alerts()
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, h.DeleteAlert(id))
	assert.ErrorIs(t, h.DeleteAlert(id), store.ErrNotFound)
}

func TestExportImport(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(up), nil)
	require.NoError(t, h.Import(models.Backup{Settings: map[string]string{
		store.KeyEndpointURL: "ws://imported:1",
		store.KeyMaxRetries:  "7",
	}}))
	assert.Equal(t, 7, h.Settings().MaxRetries)
	assert.Equal(t, "ws://imported:1", h.ConnectionStatus().EndpointURL)

	b, err := h.Export()
	require.NoError(t, err)
	assert.Equal(t, "7", b.Settings[store.KeyMaxRetries])
}

func TestStartMonitorAfterShutdown(t *testing.T) {
	h, _ := newTestHost(t, probe.ProberFunc(up), nil)
	h.Shutdown()
	assert.ErrorIs(t, h.StartMonitor([]string{"http://x"}, nil), ErrShutdown)
}
