// Package wsclient keeps one websocket connection to the notification server
// alive and turns inbound frames into notifications.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"go-portwatch/internal/backoff"
	"go-portwatch/internal/models"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

var ErrInvalidEndpoint = errors.New("invalid websocket endpoint")

// State represents the connection state
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Config struct {
	Endpoint             string
	MaxReconnectAttempts int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	Multiplier           float64
	HandshakeTimeout     time.Duration
	InsecureSkipVerify   bool
}

func DefaultConfig() Config {
	return Config{
		Endpoint:             "ws://localhost:25566",
		MaxReconnectAttempts: 10,
		InitialDelay:         5 * time.Second,
		MaxDelay:             30 * time.Second,
		Multiplier:           1.5,
		HandshakeTimeout:     10 * time.Second,
	}
}

// Dispatcher receives inbound frames and local feedback.
type Dispatcher interface {
	Dispatch(raw []byte) models.Notification
	Emit(n models.Notification)
}

// Timer is the pending reconnect. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Status is the snapshot returned to hosts.
type Status struct {
	Connected            bool   `json:"connected"`
	State                State  `json:"state"`
	EndpointURL          string `json:"endpointUrl"`
	NotificationCount    int    `json:"notificationCount"`
	ReconnectAttempts    int    `json:"reconnectAttempts"`
	MaxReconnectAttempts int    `json:"maxReconnectAttempts"`
	ReconnectDelayMs     int64  `json:"reconnectDelayMs"`
	ReconnectPending     bool   `json:"reconnectPending"`
}

// Exhausted reports whether automatic reconnects have given up.
func (s Status) Exhausted() bool {
	return !s.Connected && !s.ReconnectPending && s.ReconnectAttempts >= s.MaxReconnectAttempts
}

type Client struct {
	cfg        Config
	dialer     Dialer
	dispatcher Dispatcher
	afterFunc  AfterFunc
	persist    func(endpoint string) error
	logger     *log.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	endpoint string
	conn     Conn
	gen      uint64 // bumped whenever the current connection is superseded
	timer    Timer
	timerSeq uint64
	attempts int
	delay    *backoff.Reconnect
	count    int
	started  bool
	closed   bool
}

type Option func(*Client)

func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

func WithAfterFunc(f AfterFunc) Option { return func(c *Client) { c.afterFunc = f } }

// WithPersist stores endpoint changes made through UpdateEndpoint.
func WithPersist(f func(endpoint string) error) Option { return func(c *Client) { c.persist = f } }

func WithLogger(l *log.Logger) Option { return func(c *Client) { c.logger = l } }

func New(cfg Config, dispatcher Dispatcher, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		afterFunc:  realAfterFunc,
		persist:    func(string) error { return nil },
		logger:     log.New(io.Discard),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		endpoint:   cfg.Endpoint,
		delay:      backoff.NewReconnect(cfg.InitialDelay, cfg.MaxDelay, cfg.Multiplier),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &WebsocketDialer{HandshakeTimeout: cfg.HandshakeTimeout, InsecureSkipVerify: cfg.InsecureSkipVerify}
	}
	return c
}

// Start opens the first connection in the background.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true

	c.logger.Info("starting websocket client", "endpoint", c.endpoint)
	c.goConnectLocked()
	c.mu.Unlock()
}

// Shutdown disconnects, cancels any dial in progress and waits for the
// client's goroutines. The client cannot be restarted.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.teardownLocked(true)
	c.state = Disconnected
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Info("websocket client stopped")
}

// goConnectLocked must run under mu so it cannot race Shutdown's Wait.
func (c *Client) goConnectLocked() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.connect()
	}()
}

// connect replaces any existing connection with a new one. Dial failures
// schedule a reconnect instead of surfacing.
func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked(false)
	gen := c.gen
	c.state = Connecting
	endpoint := c.endpoint
	attempts := c.attempts
	c.mu.Unlock()

	c.logger.Info("connecting", "endpoint", endpoint, "attempt", attempts)
	conn, err := c.dialer.Dial(c.ctx, endpoint)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		c.logger.Debug("dial superseded", "endpoint", endpoint)
		return
	}
	if err != nil {
		c.state = Disconnected
		c.logger.Warn("connection failed", "endpoint", endpoint, "err", err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.state = Connected
	c.attempts = 0
	c.delay.Reset()
	c.stopTimerLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("connected", "endpoint", endpoint)
	c.emit("Connected", "Connected to "+endpoint, models.SeveritySuccess)

	go func() {
		defer c.wg.Done()
		c.readLoop(conn, gen)
	}()
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.count++
		c.mu.Unlock()
		if c.dispatcher != nil {
			c.dispatcher.Dispatch(data)
		}
	}
}

func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	c.conn = nil
	c.state = Disconnected
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Info("server closed the connection", "endpoint", c.endpoint)
		return
	}
	c.logger.Warn("connection lost", "endpoint", c.endpoint, "err", err)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer unless one is
// already pending or the attempt budget is spent.
func (c *Client) scheduleReconnectLocked() {
	if c.timer != nil || c.closed {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn("giving up on reconnects", "attempts", c.attempts)
		return
	}
	c.attempts++
	d := c.delay.Current()
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.afterFunc(d, func() { c.fireReconnect(seq) })
	c.delay.Grow()
	c.logger.Info("reconnect scheduled", "in", d, "attempt", c.attempts, "max", c.cfg.MaxReconnectAttempts)
}

func (c *Client) fireReconnect(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.connect()
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

// teardownLocked drops the current connection so its read loop and any dial
// in flight are ignored from now on.
func (c *Client) teardownLocked(intentional bool) {
	c.gen++
	if c.conn == nil {
		return
	}
	if intentional {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	}
	_ = c.conn.Close()
	c.conn = nil
}

// Reconnect cancels any pending timer and dials again in the background.
// The delay is left alone; only a successful connect resets it.
func (c *Client) Reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.goConnectLocked()
	c.mu.Unlock()
	c.logger.Info("manual reconnect")
}

// UpdateEndpoint persists a new endpoint and reconnects to it. An empty or
// unchanged endpoint is a no-op.
func (c *Client) UpdateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	if err := ValidateEndpoint(endpoint); err != nil {
		return err
	}
	c.mu.Lock()
	if endpoint == c.endpoint {
		c.mu.Unlock()
		return nil
	}
	c.endpoint = endpoint
	c.mu.Unlock()

	if err := c.persist(endpoint); err != nil {
		c.logger.Error("could not persist endpoint", "endpoint", endpoint, "err", err)
	}
	c.logger.Info("endpoint updated", "endpoint", endpoint)
	c.Reconnect()
	return nil
}

func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}

// Disconnect closes the connection on purpose. It is the only call that
// suppresses automatic reconnects.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.teardownLocked(true)
	c.attempts = 0
	c.state = Disconnected
	c.mu.Unlock()
	c.logger.Info("disconnected")
}

type diagnostic struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// SendTest writes the diagnostic payload and reports the outcome locally.
func (c *Client) SendTest() {
	payload, _ := json.Marshal(diagnostic{
		Title:   "diagnostic",
		Message: c.now().Format(time.RFC3339),
		Type:    string(models.SeverityInfo),
	})

	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		c.emit("Not connected", "No active websocket connection", models.SeverityWarning)
		return
	}
	err := c.conn.WriteMessage(websocket.TextMessage, payload)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("send test failed", "err", err)
		c.emit("Error", "Test message could not be sent", models.SeverityError)
		return
	}
	c.emit("Test sent", "Test message sent to the websocket server", models.SeverityInfo)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:            c.state == Connected,
		State:                c.state,
		EndpointURL:          c.endpoint,
		NotificationCount:    c.count,
		ReconnectAttempts:    c.attempts,
		MaxReconnectAttempts: c.cfg.MaxReconnectAttempts,
		ReconnectDelayMs:     c.delay.Current().Milliseconds(),
		ReconnectPending:     c.timer != nil,
	}
}

func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Client) emit(title, message string, sev models.Severity) {
	if c.dispatcher == nil {
		return
	}
	c.dispatcher.Emit(models.Notification{Title: title, Message: message, Severity: sev, At: c.now()})
}
