// Package journal keeps the newest-first activity log shown on the Logs tab
// and served by the API.
package journal

import (
	"fmt"
	"sync"
	"time"

	"go-portwatch/internal/models"
)

const DefaultCapacity = 100

type Entry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

func (e Entry) String() string { return fmt.Sprintf("[%s] %s", e.At.Format("15:04:05"), e.Text) }

type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
	now     func() time.Time
}

func New(limit int) *Journal {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	return &Journal{limit: limit, now: time.Now}
}

// Add prepends an entry and drops the oldest ones past the limit.
func (j *Journal) Add(format string, args ...any) {
	e := Entry{At: j.now(), Text: fmt.Sprintf(format, args...)}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append([]Entry{e}, j.entries...)
	if len(j.entries) > j.limit {
		j.entries = j.entries[:j.limit]
	}
}

func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Lines renders the entries the way the dashboard prints them.
func (j *Journal) Lines() []string {
	entries := j.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// OnStatus records terminal transitions and errors. Checking events are too
// chatty for the log and are skipped.
func (j *Journal) OnStatus(ev models.StatusEvent) {
	switch ev.State {
	case models.StateSuccess:
		j.Add("%s is up (attempt %d)", ev.URL, ev.Attempt)
	case models.StateError:
		j.Add("%s unreachable (attempt %d)", ev.URL, ev.Attempt)
	case models.StateFailed:
		j.Add("%s failed after %d attempts", ev.URL, ev.Attempt)
	}
}

func (j *Journal) Notify(n models.Notification) error {
	j.Add("[%s] %s: %s", n.Severity, n.Title, n.Message)
	return nil
}
