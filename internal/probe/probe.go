package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultTimeout = 5 * time.Second
	fallbackPath   = "favicon.ico"
	maxDrain       = 64 * 1024
)

// Prober performs one reachability check. Every failure collapses to false.
type Prober interface {
	Probe(ctx context.Context, target string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, target string) bool

func (f ProberFunc) Probe(ctx context.Context, target string) bool { return f(ctx, target) }

type Config struct {
	Timeout            time.Duration
	UserAgent          string
	InsecureSkipVerify bool
}

// HTTPProber tries a HEAD request first and falls back to loading the
// site's favicon with a cache-busting query.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time
}

func NewHTTPProber(cfg Config, logger *log.Logger) *HTTPProber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.Timeout,
	}
	return &HTTPProber{
		client: &http.Client{
			Transport: userAgentTransport{rt: transport, userAgent: cfg.UserAgent},
		},
		timeout: cfg.Timeout,
		logger:  logger,
		now:     time.Now,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) bool {
	err := p.head(ctx, target)
	if err == nil {
		return true
	}
	p.logger.Debug("primary probe failed", "url", target, "err", err)
	if err := p.favicon(ctx, target); err != nil {
		p.logger.Debug("fallback probe failed", "url", target, "err", err)
		return false
	}
	p.logger.Debug("reachable via fallback", "url", target)
	return true
}

// head succeeds on any completed response, whatever its status.
func (p *HTTPProber) head(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (p *HTTPProber) favicon(ctx context.Context, target string) error {
	u, err := FallbackURL(target, p.now())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	drain(resp)
	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// FallbackURL builds <target>/favicon.ico?_t=<unix ms>.
func FallbackURL(target string, at time.Time) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	u = u.JoinPath(fallbackPath)
	q := url.Values{}
	q.Set("_t", strconv.FormatInt(at.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

type StatusError struct{ Code int }

func (e *StatusError) Error() string { return "unexpected status " + strconv.Itoa(e.Code) }

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()
}

type userAgentTransport struct {
	rt        http.RoundTripper
	userAgent string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.rt.RoundTrip(req)
}
