// Package alert presents notifications: directly on an attached dashboard,
// or through providers that are bootstrapped on first need.
package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go-portwatch/internal/models"

	"github.com/charmbracelet/log"
)

// ErrUnavailable means a notifier has nowhere to render right now.
var ErrUnavailable = errors.New("presentation unavailable")

type Notifier interface {
	Notify(n models.Notification) error
}

type NotifierFunc func(n models.Notification) error

func (f NotifierFunc) Notify(n models.Notification) error { return f(n) }

var httpClient = &http.Client{Timeout: 10 * time.Second}

var sendMail = smtp.SendMail

func GetProvider(cfg models.AlertConfig) (Notifier, error) {
	url := cfg.Settings["url"]
	switch cfg.Type {
	case "discord", "slack", "webhook":
		if url == "" {
			return nil, fmt.Errorf("alert %q: %s provider needs a url", cfg.Name, cfg.Type)
		}
	}
	switch cfg.Type {
	case "discord":
		return &DiscordProvider{URL: url}, nil
	case "slack":
		return &SlackProvider{URL: url}, nil
	case "webhook":
		return &WebhookProvider{URL: url}, nil
	case "email":
		port := "25"
		if p, ok := cfg.Settings["port"]; ok {
			port = p
		}
		e := &EmailProvider{
			Host: cfg.Settings["host"],
			Port: port,
			User: cfg.Settings["user"],
			Pass: cfg.Settings["pass"],
			To:   cfg.Settings["to"],
			From: cfg.Settings["from"],
		}
		if e.Host == "" || e.To == "" {
			return nil, fmt.Errorf("alert %q: email provider needs host and to", cfg.Name)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("alert %q: unknown provider type %q", cfg.Name, cfg.Type)
	}
}

// --- DISCORD ---
type DiscordProvider struct{ URL string }

func (d *DiscordProvider) Notify(n models.Notification) error {
	content := fmt.Sprintf("%s **%s**\n%s", icon(n.Severity), n.Title, n.Message)
	if n.URL != "" {
		content += "\n" + n.URL
	}
	return postJSON(d.URL, map[string]string{"content": content})
}

// --- SLACK ---
type SlackProvider struct{ URL string }

func (s *SlackProvider) Notify(n models.Notification) error {
	text := fmt.Sprintf("%s *%s*\n%s", icon(n.Severity), n.Title, n.Message)
	if n.URL != "" {
		text += fmt.Sprintf("\n<%s>", n.URL)
	}
	return postJSON(s.URL, map[string]string{"text": text})
}

// --- GENERIC WEBHOOK ---
type WebhookProvider struct{ URL string }

func (w *WebhookProvider) Notify(n models.Notification) error {
	return postJSON(w.URL, n)
}

// --- EMAIL ---
type EmailProvider struct {
	Host, Port, User, Pass, To, From string
}

func (e *EmailProvider) Notify(n models.Notification) error {
	var auth smtp.Auth
	if e.User != "" {
		auth = smtp.PlainAuth("", e.User, e.Pass, e.Host)
	}
	body := n.Message
	if n.URL != "" {
		body += "\r\n\r\n" + n.URL
	}
	msg := []byte("To: " + e.To + "\r\n" +
		"Subject: portwatch [" + string(n.Severity) + "]: " + n.Title + "\r\n" +
		"\r\n" +
		body + "\r\n")
	return sendMail(e.Host+":"+e.Port, auth, e.From, []string{e.To}, msg)
}

func postJSON(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

func icon(sev models.Severity) string {
	switch sev {
	case models.SeveritySuccess:
		return "✅"
	case models.SeverityWarning:
		return "⚠️"
	case models.SeverityError:
		return "❌"
	default:
		return "ℹ️"
	}
}

// Broadcast sends to every notifier and joins their errors.
type Broadcast []Notifier

func (b Broadcast) Notify(n models.Notification) error {
	if len(b) == 0 {
		return ErrUnavailable
	}
	var errs []error
	for _, p := range b {
		if err := p.Notify(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildProviders skips invalid configs and reports them in the error.
func BuildProviders(cfgs []models.AlertConfig) (Broadcast, error) {
	var out Broadcast
	var errs []error
	for _, cfg := range cfgs {
		p, err := GetProvider(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// LogNotifier writes notifications to the process log. It never fails.
type LogNotifier struct{ Logger *log.Logger }

func (l LogNotifier) Notify(n models.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	kv := []any{"title", n.Title, "message", strings.TrimSpace(n.Message)}
	if n.URL != "" {
		kv = append(kv, "url", n.URL)
	}
	switch n.Severity {
	case models.SeverityError:
		logger.Error("notification", kv...)
	case models.SeverityWarning:
		logger.Warn("notification", kv...)
	default:
		logger.Info("notification", kv...)
	}
	return nil
}
