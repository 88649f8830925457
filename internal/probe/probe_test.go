package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hangUp(t *testing.T, w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	conn, _, err := hj.Hijack()
	require.NoError(t, err)
	conn.Close()
}

func TestProbeHeadAnyStatusIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		assert.Equal(t, "portwatch-test", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProber(Config{Timeout: time.Second, UserAgent: "portwatch-test"}, nil)
	assert.True(t, p.Probe(context.Background(), srv.URL))
}

func TestProbeFallsBackToFavicon(t *testing.T) {
	var fallbackHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			hangUp(t, w)
			return
		}
		assert.Equal(t, "/favicon.ico", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("_t"))
		fallbackHits.Add(1)
		w.Header().Set("Content-Type", "image/x-icon")
		w.Write([]byte{0, 0, 1, 0})
	}))
	defer srv.Close()

	p := NewHTTPProber(Config{Timeout: time.Second}, nil)
	assert.True(t, p.Probe(context.Background(), srv.URL))
	assert.Equal(t, int32(1), fallbackHits.Load())
}

func TestProbeFallbackMissingFaviconIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			hangUp(t, w)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewHTTPProber(Config{Timeout: time.Second}, nil)
	assert.False(t, p.Probe(context.Background(), srv.URL))
}

func TestProbeClosedPortIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	p := NewHTTPProber(Config{Timeout: time.Second}, nil)
	assert.False(t, p.Probe(context.Background(), target))
}

func TestProbeTimesOutBothStages(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProber(Config{Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	assert.False(t, p.Probe(context.Background(), srv.URL))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeInvalidURL(t *testing.T) {
	p := NewHTTPProber(Config{Timeout: 50 * time.Millisecond}, nil)
	assert.False(t, p.Probe(context.Background(), "://bad"))
}

func TestFallbackURL(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	tests := []struct {
		target string
		want   string
	}{
		{"http://localhost:9100", "http://localhost:9100/favicon.ico?_t=1700000000000"},
		{"http://localhost:9100/", "http://localhost:9100/favicon.ico?_t=1700000000000"},
		{"https://example.com/app/", "https://example.com/app/favicon.ico?_t=1700000000000"},
		{"http://x:1/?a=b#frag", "http://x:1/favicon.ico?_t=1700000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := FallbackURL(tt.target, at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProberFunc(t *testing.T) {
	var p Prober = ProberFunc(func(ctx context.Context, target string) bool { return target == "up" })
	assert.True(t, p.Probe(context.Background(), "up"))
	assert.False(t, p.Probe(context.Background(), "down"))
}
