package monitor

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-portwatch/internal/backoff"
	"go-portwatch/internal/models"
	"go-portwatch/internal/probe"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// StatusSink receives every state transition of every monitored URL.
type StatusSink interface {
	OnStatus(ev models.StatusEvent)
}

type SinkFunc func(ev models.StatusEvent)

func (f SinkFunc) OnStatus(ev models.StatusEvent) { f(ev) }

// Sinks fans an event out. A panicking sink does not stop the others.
type Sinks []StatusSink

func (s Sinks) OnStatus(ev models.StatusEvent) {
	for _, sink := range s {
		deliver(sink, ev, nil)
	}
}

// session is the cancellation token of one retry loop.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type Monitor struct {
	prober probe.Prober
	sink   StatusSink
	logger *log.Logger
	rnd    func() float64
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	live     map[string]models.StatusEvent
}

type Option func(*Monitor)

func WithLogger(l *log.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithRand replaces the jitter source. It must return values in [0, 1).
func WithRand(rnd func() float64) Option { return func(m *Monitor) { m.rnd = rnd } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func New(prober probe.Prober, sink StatusSink, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		sink:     sink,
		logger:   log.New(io.Discard),
		rnd:      rand.Float64,
		now:      time.Now,
		sessions: make(map[string]*session),
		live:     make(map[string]models.StatusEvent),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = Sinks(nil)
	}
	return m
}

// Watch probes target until it answers, retries run out, or the loop is
// stopped. It returns immediately when target is already being watched.
func (m *Monitor) Watch(ctx context.Context, target string, cfg backoff.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sess, ok := m.acquire(ctx, target)
	if !ok {
		m.logger.Debug("already monitoring", "url", target)
		return nil
	}
	defer m.release(target, sess)

	m.logger.Info("monitoring started", "url", target, "max_retries", cfg.MaxRetries)
	m.run(ctx, target, cfg, sess)
	return nil
}

// WatchMany runs one independent loop per URL and returns when all of them
// have ended.
func (m *Monitor) WatchMany(ctx context.Context, targets []string, cfg backoff.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var g errgroup.Group
	for _, target := range targets {
		target := target
		g.Go(func() error { return m.Watch(ctx, target, cfg) })
	}
	err := g.Wait()
	m.logger.Info("monitoring finished", "urls", len(targets))
	return err
}

func (m *Monitor) run(ctx context.Context, target string, cfg backoff.Config, sess *session) {
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		if sess.ctx.Err() != nil {
			m.logger.Info("monitoring stopped", "url", target, "attempt", attempt)
			return
		}
		m.emit(sess, target, models.StateChecking, attempt)

		// Stop does not reach the probe; only the next attempt is skipped.
		if m.probe(ctx, target) {
			m.emit(sess, target, models.StateSuccess, attempt)
			m.logger.Info("port is responding", "url", target, "attempt", attempt)
			return
		}
		m.emit(sess, target, models.StateError, attempt)

		if attempt == cfg.MaxRetries {
			m.emit(sess, target, models.StateFailed, attempt)
			m.logger.Warn("max retries reached", "url", target, "attempts", attempt)
			return
		}

		delay := backoff.NextDelay(attempt, cfg, m.rnd)
		if !wait(sess.ctx, delay) {
			m.logger.Info("monitoring stopped", "url", target, "attempt", attempt)
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context, target string) (up bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("probe panicked", "url", target, "panic", r)
			up = false
		}
	}()
	return m.prober.Probe(ctx, target)
}

// wait reports false when ctx ends before or during the delay.
func wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	}
	return ctx.Err() == nil
}

// emit publishes a transition of sess. A stopped loop whose URL is already
// owned by a newer loop is silent, so its late result cannot overwrite the
// newer one.
func (m *Monitor) emit(sess *session, target string, state models.MonitorState, attempt int) {
	ev := models.StatusEvent{URL: target, State: state, Attempt: attempt, At: m.now()}
	m.mu.Lock()
	if cur, ok := m.sessions[target]; ok && cur != sess {
		m.mu.Unlock()
		m.logger.Debug("dropping stale status", "url", target, "state", state, "attempt", attempt)
		return
	}
	m.live[target] = ev
	m.mu.Unlock()
	deliver(m.sink, ev, m.logger)
}

func deliver(sink StatusSink, ev models.StatusEvent, logger *log.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("status sink panicked", "url", ev.URL, "state", ev.State, "panic", r)
		}
	}()
	sink.OnStatus(ev)
}

func (m *Monitor) acquire(ctx context.Context, target string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[target]; ok {
		return nil, false
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &session{ctx: sctx, cancel: cancel}
	m.sessions[target] = s
	return s, true
}

func (m *Monitor) release(target string, s *session) {
	m.mu.Lock()
	if m.sessions[target] == s {
		delete(m.sessions, target)
	}
	m.mu.Unlock()
	s.cancel()
}

// Stop cancels the loop for target. It reports whether one was running.
func (m *Monitor) Stop(target string) bool {
	m.mu.Lock()
	s, ok := m.sessions[target]
	delete(m.sessions, target)
	m.mu.Unlock()
	if ok {
		s.cancel()
		m.logger.Info("stop requested", "url", target)
	}
	return ok
}

func (m *Monitor) StopAll() int {
	m.mu.Lock()
	stopped := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	for _, s := range stopped {
		s.cancel()
	}
	m.logger.Info("stopped all monitoring", "count", len(stopped))
	return len(stopped)
}

func (m *Monitor) IsActive(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[target]
	return ok
}

func (m *Monitor) Active() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.sessions))
	for u := range m.sessions {
		out = append(out, u)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot returns the latest event of every URL seen so far.
func (m *Monitor) Snapshot() []models.StatusEvent {
	m.mu.RLock()
	out := make([]models.StatusEvent, 0, len(m.live))
	for _, ev := range m.live {
		out = append(out, ev)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// ExpandPorts turns a base such as "http://devbox" into one URL per port on
// the same scheme and host.
func ExpandPorts(base string, ports []int) ([]string, error) {
	base = strings.TrimSpace(base)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base %q: %w", base, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("base %q has no host", base)
	}
	urls := make([]string, 0, len(ports))
	for _, p := range ports {
		urls = append(urls, fmt.Sprintf("%s://%s", u.Scheme, net.JoinHostPort(u.Hostname(), strconv.Itoa(p))))
	}
	return urls, nil
}
