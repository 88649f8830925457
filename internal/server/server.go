package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"go-portwatch/internal/app"
	"go-portwatch/internal/backoff"
	"go-portwatch/internal/journal"
	"go-portwatch/internal/models"
	"go-portwatch/internal/store"
	"go-portwatch/internal/wsclient"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const SecretHeader = "X-Portwatch-Secret"

// Host is the control surface the API exposes. *app.Host implements it.
type Host interface {
	ConnectionStatus() wsclient.Status
	Reconnect()
	UpdateEndpoint(endpoint string) error
	SendTest()
	Disconnect()

	BackoffConfig() backoff.Config
	StartMonitor(urls []string, cfg *backoff.Config) error
	StartCustom() error
	QuickMonitor(base string) error
	StopMonitor(url string) bool
	StopAll() int
	MonitorStatus() app.MonitorStatus

	Settings() models.Settings
	SaveSettings(s models.Settings) error

	Alerts() ([]models.AlertConfig, error)
	AddAlert(cfg models.AlertConfig) (int, error)
	DeleteAlert(id int) error

	Export() (models.Backup, error)
	Import(b models.Backup) error

	Logs() []journal.Entry
}

type Config struct {
	Addr        string
	AdminSecret string
	Title       string
}

type Server struct {
	host   Host
	cfg    Config
	logger *log.Logger
	srv    *http.Server
}

func New(host Host, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.Title == "" {
		cfg.Title = "portwatch"
	}
	s := &Server{host: host, cfg: cfg, logger: logger}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/status", s.statusPage)
	r.Get("/status/json", s.statusJSON)

	r.Route("/api", func(r chi.Router) {
		r.Route("/connection", func(r chi.Router) {
			r.Get("/status", s.connectionStatus)
			r.Post("/reconnect", s.reconnect)
			r.Post("/endpoint", s.updateEndpoint)
			r.Post("/test", s.sendTest)
			r.Post("/disconnect", s.disconnect)
		})
		r.Route("/monitor", func(r chi.Router) {
			r.Post("/start", s.startMonitor)
			r.Post("/custom", s.startCustom)
			r.Post("/quick", s.quickMonitor)
			r.Post("/stop", s.stopMonitor)
			r.Get("/status", s.monitorStatus)
		})
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Get("/logs", s.logs)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSecret)
			r.Get("/alerts", s.listAlerts)
			r.Post("/alerts", s.addAlert)
			r.Delete("/alerts/{id}", s.deleteAlert)
			r.Get("/backup/export", s.exportBackup)
			r.Post("/backup/import", s.importBackup)
		})
	})
	return r
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireSecret rejects every request when no admin secret is configured.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SecretHeader)
		if s.cfg.AdminSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized: admin secret required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- CONNECTION ---

func (s *Server) connectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.ConnectionStatus())
}

func (s *Server) reconnect(w http.ResponseWriter, r *http.Request) {
	s.host.Reconnect()
	writeOK(w)
}

func (s *Server) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.host.UpdateEndpoint(req.URL); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeOK(w)
}

func (s *Server) sendTest(w http.ResponseWriter, r *http.Request) {
	s.host.SendTest()
	writeOK(w)
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	s.host.Disconnect()
	writeOK(w)
}

// --- MONITOR ---

type monitorConfig struct {
	MaxRetries        int     `json:"maxRetries"`
	InitialDelayMs    int     `json:"initialDelayMs"`
	MaxDelayMs        int     `json:"maxDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// overlay applies the fields the request set on top of base, the host's
// stored settings. Zero values mean "not given".
func (c monitorConfig) overlay(base backoff.Config) *backoff.Config {
	if c.MaxRetries != 0 {
		base.MaxRetries = c.MaxRetries
	}
	if c.InitialDelayMs != 0 {
		base.InitialDelay = time.Duration(c.InitialDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs != 0 {
		base.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	if c.BackoffMultiplier != 0 {
		base.Multiplier = c.BackoffMultiplier
	}
	return &base
}

func (s *Server) startMonitor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs   []string       `json:"urls"`
		Config *monitorConfig `json:"config"`
	}
	if !decode(w, r, &req) {
		return
	}
	var cfg *backoff.Config
	if req.Config != nil {
		cfg = req.Config.overlay(s.host.BackoffConfig())
	}
	if err := s.host.StartMonitor(req.URLs, cfg); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) startCustom(w http.ResponseWriter, r *http.Request) {
	if err := s.host.StartCustom(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) quickMonitor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base string `json:"base"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.host.QuickMonitor(req.Base); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// stopMonitor stops one URL, or every loop when the body has no url.
func (s *Server) stopMonitor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.host.StopAll()
	} else {
		s.host.StopMonitor(req.URL)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) monitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.MonitorStatus())
}

// --- SETTINGS / LOGS ---

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Settings())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req models.Settings
	if !decode(w, r, &req) {
		return
	}
	if err := s.host.SaveSettings(req); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.host.Settings())
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Logs())
}

// --- ALERTS ---

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.host.Alerts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []models.AlertConfig{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) addAlert(w http.ResponseWriter, r *http.Request) {
	var req models.AlertConfig
	if !decode(w, r, &req) {
		return
	}
	id, err := s.host.AddAlert(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"id": id})
}

func (s *Server) deleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := s.host.DeleteAlert(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- BACKUP ---

func (s *Server) exportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.host.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) importBackup(w http.ResponseWriter, r *http.Request) {
	var data models.Backup
	if !decode(w, r, &data) {
		return
	}
	if err := s.host.Import(data); err != nil {
		writeError(w, http.StatusInternalServerError, "import failed: "+err.Error())
		return
	}
	writeOK(w)
}

// --- STATUS PAGE ---

type statusView struct {
	Title      string
	Connection wsclient.Status
	Events     []models.StatusEvent
	Active     map[string]bool
}

func (s *Server) statusJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Connection wsclient.Status   `json:"connection"`
		Monitors   app.MonitorStatus `json:"monitors"`
	}{s.host.ConnectionStatus(), s.host.MonitorStatus()})
}

func (s *Server) statusPage(w http.ResponseWriter, r *http.Request) {
	ms := s.host.MonitorStatus()
	view := statusView{
		Title:      s.cfg.Title,
		Connection: s.host.ConnectionStatus(),
		Events:     ms.Events,
		Active:     make(map[string]bool, len(ms.Active)),
	}
	for _, u := range ms.Active {
		view.Active[u] = true
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, view); err != nil {
		s.logger.Error("render status page", "err", err)
	}
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>{{.Title}}</title>
	<meta http-equiv="refresh" content="5">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #1a1b26; color: #a9b1d6; padding: 20px; margin: 0; }
		h1 { text-align: center; color: #7aa2f7; margin-bottom: 10px; }
		.conn { text-align: center; margin-bottom: 30px; color: #565f89; }
		.container { max-width: 800px; margin: 0 auto; }
		.card { background: #24283b; padding: 20px; margin-bottom: 15px; border-radius: 8px; display: flex; align-items: center; justify-content: space-between; }
		.url { font-size: 1.1em; font-weight: bold; color: #c0caf5; margin-bottom: 5px; }
		.meta { font-size: 0.85em; color: #565f89; }
		.state { font-weight: bold; padding: 6px 12px; border-radius: 6px; min-width: 70px; text-align: center; color: #1a1b26; }
		.success { background: #9ece6a; }
		.failed, .error { background: #f7768e; }
		.checking, .idle { background: #e0af68; }
	</style>
</head>
<body>
	<div class="container">
		<h1>{{.Title}}</h1>
		<div class="conn">{{.Connection.EndpointURL}}: {{.Connection.State}} | notifications {{.Connection.NotificationCount}} | reconnects {{.Connection.ReconnectAttempts}}/{{.Connection.MaxReconnectAttempts}}</div>
		{{range .Events}}
		<div class="card">
			<div>
				<div class="url">{{.URL}}</div>
				<div class="meta">attempt {{.Attempt}} | {{.At.Format "15:04:05"}}{{if index $.Active .URL}} | retrying{{end}}</div>
			</div>
			<div class="state {{.State}}">{{.State}}</div>
		</div>
		{{else}}
		<div class="meta" style="text-align:center">Nothing monitored yet.</div>
		{{end}}
	</div>
</body>
</html>`))

// --- HELPERS ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, backoff.ErrInvalidConfig),
		errors.Is(err, app.ErrNoURLs),
		errors.Is(err, wsclient.ErrInvalidEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
