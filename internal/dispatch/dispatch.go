// Package dispatch turns raw websocket frames into notifications and hands
// them to the presentation layer.
package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"go-portwatch/internal/models"

	"github.com/charmbracelet/log"
)

const DefaultTitle = "Server message"

// Sink presents a notification. alert.Presenter is the production sink.
type Sink interface {
	Notify(n models.Notification) error
}

type SinkFunc func(n models.Notification) error

func (f SinkFunc) Notify(n models.Notification) error { return f(n) }

// Parse decodes a frame. A JSON object keeps every usable field on its own:
// string fields are taken as they are, a non-string message is kept as its
// JSON text, and anything else falls back to the default. Frames that are
// not JSON objects become the message.
func Parse(raw []byte) models.Notification {
	var fields map[string]json.RawMessage
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &fields) != nil {
		fields = nil
	}

	n := models.Notification{
		Title:      stringField(fields, "title"),
		Message:    messageField(fields),
		Severity:   models.ParseSeverity(stringField(fields, "type")),
		URL:        stringField(fields, "url"),
		Background: stringField(fields, "background"),
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Message == "" {
		n.Message = string(raw)
	}
	return n
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if v, ok := fields[key]; ok && json.Unmarshal(v, &s) == nil {
		return s
	}
	return ""
}

func messageField(fields map[string]json.RawMessage) string {
	v, ok := fields["message"]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	if text := string(bytes.TrimSpace(v)); text != "null" {
		return text
	}
	return ""
}

type Dispatcher struct {
	sink   Sink
	logger *log.Logger
	now    func() time.Time
}

func New(sink Sink, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Dispatcher{sink: sink, logger: logger, now: time.Now}
}

// Dispatch parses an inbound frame and presents it.
func (d *Dispatcher) Dispatch(raw []byte) models.Notification {
	n := Parse(raw)
	d.Emit(n)
	return n
}

// Emit presents a locally generated notification. Sink failures are logged
// and never reach the caller.
func (d *Dispatcher) Emit(n models.Notification) {
	if n.At.IsZero() {
		n.At = d.now()
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked", "title", n.Title, "panic", r)
		}
	}()
	if d.sink == nil {
		d.logger.Warn("no notification sink", "title", n.Title)
		return
	}
	if err := d.sink.Notify(n); err != nil {
		d.logger.Error("notification not presented", "title", n.Title, "err", err)
	}
}
