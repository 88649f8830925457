// Package logger builds the process logger from config values.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

func New(level, format string, w io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var f log.Formatter
	switch format {
	case "", "text":
		f = log.TextFormatter
	case "json":
		f = log.JSONFormatter
	case "logfmt":
		f = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       f,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	}), nil
}

// Output resolves where logs go. When the dashboard owns the terminal and
// no file is set, logs are dropped so they do not corrupt the screen.
func Output(file string, tui bool) (io.Writer, func() error, error) {
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
	if tui {
		return io.Discard, func() error { return nil }, nil
	}
	return os.Stderr, func() error { return nil }, nil
}
