package models

import (
	"strings"
	"time"
)

type MonitorState string

const (
	StateIdle     MonitorState = "idle"
	StateChecking MonitorState = "checking"
	StateSuccess  MonitorState = "success"
	StateError    MonitorState = "error"
	StateFailed   MonitorState = "failed"
)

// Terminal reports whether a loop ends after emitting this state.
func (s MonitorState) Terminal() bool { return s == StateSuccess || s == StateFailed }

// StatusEvent is one transition of a monitored URL.
type StatusEvent struct {
	URL     string       `json:"url"`
	State   MonitorState `json:"state"`
	Attempt int          `json:"attempt"`
	At      time.Time    `json:"at"`
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity maps unknown or empty values to info.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeveritySuccess:
		return SeveritySuccess
	case SeverityWarning:
		return SeverityWarning
	case SeverityError:
		return SeverityError
	default:
		return SeverityInfo
	}
}

type Notification struct {
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"type"`
	URL        string    `json:"url,omitempty"`
	Background string    `json:"background,omitempty"`
	At         time.Time `json:"at"`
}

// Settings is the persisted configuration edited by hosts.
type Settings struct {
	EndpointURL  string `json:"endpointUrl"`
	MaxRetries   int    `json:"maxRetries"`
	InitialDelay int    `json:"initialDelayMs"`
	MaxDelay     int    `json:"maxDelayMs"`
	CustomURLs   string `json:"customUrls"`
}

// URLs splits the newline-delimited custom URL list.
func (s Settings) URLs() []string { return SplitURLs(s.CustomURLs) }

func SplitURLs(raw string) []string {
	var urls []string
	for _, line := range strings.Split(raw, "\n") {
		if u := strings.TrimSpace(line); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

type AlertConfig struct {
	ID       int               `json:"id" yaml:"-"`
	Name     string            `json:"name" yaml:"name"`
	Type     string            `json:"type" yaml:"type"`
	Settings map[string]string `json:"settings" yaml:"settings"`
}

// Backup is the export/import document.
type Backup struct {
	Settings map[string]string `json:"settings"`
	Alerts   []AlertConfig     `json:"alerts"`
}
