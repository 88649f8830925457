// Package app wires the monitor, the websocket client, persistence and
// presentation into the control surface used by the API and the dashboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go-portwatch/internal/alert"
	"go-portwatch/internal/backoff"
	"go-portwatch/internal/config"
	"go-portwatch/internal/dispatch"
	"go-portwatch/internal/journal"
	"go-portwatch/internal/models"
	"go-portwatch/internal/monitor"
	"go-portwatch/internal/probe"
	"go-portwatch/internal/store"
	"go-portwatch/internal/wsclient"

	"github.com/charmbracelet/log"
)

var (
	ErrNoURLs   = errors.New("no urls to monitor")
	ErrShutdown = errors.New("host is shut down")
)

type Deps struct {
	Config *config.Config
	Store  store.Store
	Logger *log.Logger

	// Optional overrides, mostly for tests.
	Prober    probe.Prober
	Dialer    wsclient.Dialer
	AfterFunc wsclient.AfterFunc

	// StatusSinks receive every monitor transition next to the journal.
	StatusSinks []monitor.StatusSink
	// Direct is tried before the bootstrapped alert providers.
	Direct alert.Notifier
}

type MonitorStatus struct {
	Events []models.StatusEvent `json:"events"`
	Active []string             `json:"active"`
}

type Host struct {
	cfg       *config.Config
	store     store.Store
	logger    *log.Logger
	journal   *journal.Journal
	monitor   *monitor.Monitor
	client    *wsclient.Client
	presenter *alert.Presenter
	notes     *dispatch.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	settings models.Settings
}

func New(d Deps) (*Host, error) {
	if d.Config == nil {
		return nil, errors.New("app: config is required")
	}
	if d.Store == nil {
		return nil, errors.New("app: store is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	settings, err := store.LoadSettings(d.Store, d.Config.Settings())
	if err != nil {
		logger.Warn("stored settings partly invalid, using defaults for those keys", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		cfg:      d.Config,
		store:    d.Store,
		logger:   logger,
		journal:  journal.New(journal.DefaultCapacity),
		ctx:      ctx,
		cancel:   cancel,
		settings: settings,
	}

	h.presenter = alert.NewPresenter(h.bootstrapAlerts, logger.WithPrefix("alert"))
	if d.Direct != nil {
		h.presenter.Attach(d.Direct)
	}
	h.notes = dispatch.New(dispatch.SinkFunc(h.present), logger.WithPrefix("dispatch"))

	prober := d.Prober
	if prober == nil {
		prober = probe.NewHTTPProber(probe.Config{
			Timeout:            d.Config.Monitor.ProbeTimeoutDur,
			UserAgent:          d.Config.Monitor.UserAgent,
			InsecureSkipVerify: d.Config.Monitor.InsecureSkipVerify,
		}, logger.WithPrefix("probe"))
	}
	sinks := monitor.Sinks{h.journal, monitor.SinkFunc(h.onStatus)}
	sinks = append(sinks, d.StatusSinks...)
	h.monitor = monitor.New(prober, sinks, monitor.WithLogger(logger.WithPrefix("monitor")))

	cc := d.Config.Connection
	opts := []wsclient.Option{
		wsclient.WithLogger(logger.WithPrefix("ws")),
		wsclient.WithPersist(h.persistEndpoint),
	}
	if d.Dialer != nil {
		opts = append(opts, wsclient.WithDialer(d.Dialer))
	}
	if d.AfterFunc != nil {
		opts = append(opts, wsclient.WithAfterFunc(d.AfterFunc))
	}
	h.client = wsclient.New(wsclient.Config{
		Endpoint:             settings.EndpointURL,
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
		InitialDelay:         cc.ReconnectInitialDur,
		MaxDelay:             cc.ReconnectMaxDur,
		Multiplier:           cc.Multiplier,
		HandshakeTimeout:     cc.HandshakeTimeoutDur,
	}, h.notes, opts...)

	return h, nil
}

// Start connects the client and watches the configured URLs.
func (h *Host) Start() {
	h.journal.Add("portwatch started")
	h.client.Start()
	if urls := h.cfg.Monitor.URLs; len(urls) > 0 {
		if err := h.StartMonitor(urls, nil); err != nil {
			h.logger.Error("could not start configured monitors", "err", err)
		}
	}
}

func (h *Host) Shutdown() {
	h.client.Shutdown()
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()
	h.monitor.StopAll()
	h.wg.Wait()
	h.logger.Info("host stopped")
}

// present records a notification and shows it.
func (h *Host) present(n models.Notification) error {
	h.journal.Notify(n)
	return h.presenter.Notify(n)
}

func (h *Host) onStatus(ev models.StatusEvent) {
	switch ev.State {
	case models.StateSuccess:
		h.notes.Emit(models.Notification{
			Title:    "Port is up",
			Message:  fmt.Sprintf("%s answered after %d attempt(s)", ev.URL, ev.Attempt),
			Severity: models.SeveritySuccess,
			URL:      ev.URL,
		})
	case models.StateFailed:
		h.notes.Emit(models.Notification{
			Title:    "Port unreachable",
			Message:  fmt.Sprintf("%s gave no answer after %d attempts", ev.URL, ev.Attempt),
			Severity: models.SeverityError,
			URL:      ev.URL,
		})
	}
}

// bootstrapAlerts builds the fallback presentation from configured and
// stored providers. The process log is always part of it.
func (h *Host) bootstrapAlerts() (alert.Notifier, error) {
	cfgs := append([]models.AlertConfig(nil), h.cfg.Alerts...)
	stored, err := h.store.GetAllAlerts()
	if err != nil {
		h.logger.Error("could not load stored alerts", "err", err)
	}
	cfgs = append(cfgs, stored...)

	providers, err := alert.BuildProviders(cfgs)
	if err != nil {
		h.logger.Warn("skipping invalid alert providers", "err", err)
	}
	h.logger.Info("alert providers ready", "count", len(providers))
	return append(providers, alert.LogNotifier{Logger: h.logger.WithPrefix("notify")}), nil
}

func (h *Host) persistEndpoint(endpoint string) error {
	h.mu.Lock()
	h.settings.EndpointURL = endpoint
	h.mu.Unlock()
	return store.SaveEndpoint(h.store, endpoint)
}

// --- CONNECTION ---

func (h *Host) ConnectionStatus() wsclient.Status { return h.client.Status() }

func (h *Host) Reconnect() {
	h.journal.Add("manual reconnect requested")
	h.client.Reconnect()
}

func (h *Host) UpdateEndpoint(endpoint string) error {
	before := h.client.Endpoint()
	if err := h.client.UpdateEndpoint(endpoint); err != nil {
		return err
	}
	if after := h.client.Endpoint(); after != before {
		h.journal.Add("endpoint set to %s", after)
	}
	return nil
}

func (h *Host) SendTest() { h.client.SendTest() }

func (h *Host) Disconnect() {
	h.client.Disconnect()
	h.journal.Add("disconnected from %s", h.client.Endpoint())
}

// --- MONITOR ---

// BackoffConfig turns the stored settings into a monitor config.
func (h *Host) BackoffConfig() backoff.Config {
	s := h.Settings()
	return backoff.Config{
		InitialDelay: time.Duration(s.InitialDelay) * time.Millisecond,
		MaxDelay:     time.Duration(s.MaxDelay) * time.Millisecond,
		Multiplier:   h.cfg.Monitor.Multiplier,
		MaxRetries:   s.MaxRetries,
	}
}

// StartMonitor launches one loop per URL in the background. A nil cfg uses
// the stored settings. URLs that are already watched are left alone.
func (h *Host) StartMonitor(urls []string, cfg *backoff.Config) error {
	if len(urls) == 0 {
		return ErrNoURLs
	}
	c := h.BackoffConfig()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return ErrShutdown
	}
	h.journal.Add("monitoring %d url(s)", len(urls))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.monitor.WatchMany(h.ctx, urls, c); err != nil {
			h.logger.Error("monitoring ended with error", "err", err)
		}
	}()
	return nil
}

func (h *Host) StartCustom() error {
	return h.StartMonitor(h.Settings().URLs(), nil)
}

// QuickMonitor watches the default ports on base's host.
func (h *Host) QuickMonitor(base string) error {
	urls, err := monitor.ExpandPorts(base, h.cfg.Monitor.QuickPorts)
	if err != nil {
		return err
	}
	return h.StartMonitor(urls, nil)
}

func (h *Host) StopMonitor(url string) bool {
	stopped := h.monitor.Stop(url)
	if stopped {
		h.journal.Add("stopped monitoring %s", url)
	}
	return stopped
}

func (h *Host) StopAll() int {
	n := h.monitor.StopAll()
	if n > 0 {
		h.journal.Add("stopped %d monitor(s)", n)
	}
	return n
}

func (h *Host) MonitorStatus() MonitorStatus {
	return MonitorStatus{Events: h.monitor.Snapshot(), Active: h.monitor.Active()}
}

func (h *Host) ActiveMonitors() []string { return h.monitor.Active() }

// --- SETTINGS ---

func (h *Host) Settings() models.Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings
}

func (h *Host) SaveSettings(s models.Settings) error {
	if err := wsclient.ValidateEndpoint(s.EndpointURL); err != nil {
		return err
	}
	probeCfg := backoff.Config{
		InitialDelay: time.Duration(s.InitialDelay) * time.Millisecond,
		MaxDelay:     time.Duration(s.MaxDelay) * time.Millisecond,
		Multiplier:   h.cfg.Monitor.Multiplier,
		MaxRetries:   s.MaxRetries,
	}
	if err := probeCfg.Validate(); err != nil {
		return err
	}
	if err := store.SaveSettings(h.store, s); err != nil {
		return err
	}
	h.mu.Lock()
	h.settings = s
	h.mu.Unlock()
	h.journal.Add("settings saved")
	return h.client.UpdateEndpoint(s.EndpointURL)
}

// --- ALERTS ---

func (h *Host) Alerts() ([]models.AlertConfig, error) { return h.store.GetAllAlerts() }

func (h *Host) AddAlert(cfg models.AlertConfig) (int, error) {
	if _, err := alert.GetProvider(cfg); err != nil {
		return 0, err
	}
	id, err := h.store.AddAlert(cfg)
	if err != nil {
		return 0, err
	}
	h.presenter.Reset()
	h.journal.Add("alert %q added", cfg.Name)
	return id, nil
}

func (h *Host) DeleteAlert(id int) error {
	if err := h.store.DeleteAlert(id); err != nil {
		return err
	}
	h.presenter.Reset()
	h.journal.Add("alert %d deleted", id)
	return nil
}

// --- BACKUP ---

func (h *Host) Export() (models.Backup, error) { return h.store.ExportData() }

func (h *Host) Import(b models.Backup) error {
	if err := h.store.ImportData(b); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	settings, err := store.LoadSettings(h.store, h.cfg.Settings())
	if err != nil {
		h.logger.Warn("imported settings partly invalid", "err", err)
	}
	h.mu.Lock()
	h.settings = settings
	h.mu.Unlock()
	h.presenter.Reset()
	h.journal.Add("backup imported")
	return h.client.UpdateEndpoint(settings.EndpointURL)
}

// --- PRESENTATION ---

func (h *Host) Logs() []journal.Entry { return h.journal.Entries() }

// AttachPresenter routes notifications to n before the alert providers.
func (h *Host) AttachPresenter(n alert.Notifier) { h.presenter.Attach(n) }
