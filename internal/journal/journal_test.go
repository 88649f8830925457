package journal

import (
	"testing"
	"time"

	"go-portwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddKeepsNewestFirstAndBounded(t *testing.T) {
	j := New(3)
	for i := 1; i <= 5; i++ {
		j.Add("entry %d", i)
	}
	entries := j.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 5", entries[0].Text)
	assert.Equal(t, "entry 3", entries[2].Text)
}

func TestDefaultCapacity(t *testing.T) {
	j := New(0)
	for i := 0; i < 150; i++ {
		j.Add("x")
	}
	assert.Equal(t, DefaultCapacity, j.Len())
}

func TestEntriesReturnsCopy(t *testing.T) {
	j := New(10)
	j.Add("first")
	entries := j.Entries()
	entries[0].Text = "mutated"
	assert.Equal(t, "first", j.Entries()[0].Text)
}

func TestLinesFormat(t *testing.T) {
	j := New(10)
	j.now = func() time.Time { return time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC) }
	j.Add("hello %s", "world")
	assert.Equal(t, []string{"[13:04:05] hello world"}, j.Lines())
}

func TestOnStatusSkipsChecking(t *testing.T) {
	j := New(10)
	j.OnStatus(models.StatusEvent{URL: "http://a", State: models.StateChecking, Attempt: 1})
	j.OnStatus(models.StatusEvent{URL: "http://a", State: models.StateError, Attempt: 1})
	j.OnStatus(models.StatusEvent{URL: "http://a", State: models.StateFailed, Attempt: 2})

	entries := j.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "http://a failed after 2 attempts", entries[0].Text)
	assert.Equal(t, "http://a unreachable (attempt 1)", entries[1].Text)
}

func TestNotify(t *testing.T) {
	j := New(10)
	require.NoError(t, j.Notify(models.Notification{Title: "Deploy", Message: "done", Severity: models.SeveritySuccess}))
	assert.Equal(t, "[success] Deploy: done", j.Entries()[0].Text)
}
