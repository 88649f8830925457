package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"defaults", "info", "", false},
		{"json", "debug", "json", false},
		{"logfmt", "warn", "logfmt", false},
		{"bad level", "loud", "text", true},
		{"bad format", "info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.level, tt.format, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestJSONOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", "json", &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "url", "http://x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "http://x", entry["url"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestOutput(t *testing.T) {
	w, closeFn, err := Output("", true)
	require.NoError(t, err)
	assert.Equal(t, io.Discard, w)
	assert.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "portwatch.log")
	w, closeFn, err = Output(path, true)
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	assert.NoError(t, err)
	assert.NoError(t, closeFn())
}
