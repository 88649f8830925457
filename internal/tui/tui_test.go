package tui

import (
	"errors"
	"io"
	"testing"
	"time"

	"go-portwatch/internal/alert"
	"go-portwatch/internal/backoff"
	"go-portwatch/internal/journal"
	"go-portwatch/internal/models"
	"go-portwatch/internal/wsclient"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCtrl struct {
	started  [][]string
	quick    string
	endpoint string
	stopped  []string
	tests    int
}

func (f *fakeCtrl) ConnectionStatus() wsclient.Status {
	return wsclient.Status{State: wsclient.Connected, Connected: true, EndpointURL: "ws://x:1", NotificationCount: 1234}
}
func (f *fakeCtrl) Reconnect()  {}
func (f *fakeCtrl) SendTest()   { f.tests++ }
func (f *fakeCtrl) Disconnect() {}
func (f *fakeCtrl) UpdateEndpoint(e string) error {
	if err := wsclient.ValidateEndpoint(e); err != nil {
		return err
	}
	f.endpoint = e
	return nil
}
func (f *fakeCtrl) StartMonitor(urls []string, _ *backoff.Config) error {
	if len(urls) == 0 {
		return errors.New("no urls to monitor")
	}
	f.started = append(f.started, urls)
	return nil
}
func (f *fakeCtrl) StartCustom() error { return errors.New("no urls to monitor") }
func (f *fakeCtrl) QuickMonitor(base string) error {
	f.quick = base
	return nil
}
func (f *fakeCtrl) StopMonitor(url string) bool {
	f.stopped = append(f.stopped, url)
	return true
}
func (f *fakeCtrl) StopAll() int { return 0 }
func (f *fakeCtrl) Logs() []journal.Entry {
	return []journal.Entry{{At: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), Text: "http://a:1 is up (attempt 1)"}}
}

func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(t *testing.T, m Model, s string) Model {
	for _, r := range s {
		m, _ = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func TestSuccessRowClearsAfterLinger(t *testing.T) {
	m := New(&fakeCtrl{})
	at := time.Now()

	m, cmd := step(t, m, statusMsg{URL: "http://a:1", State: models.StateChecking, Attempt: 1, At: at})
	assert.Nil(t, cmd)
	m, cmd = step(t, m, statusMsg{URL: "http://a:1", State: models.StateSuccess, Attempt: 1, At: at})
	require.NotNil(t, cmd)
	require.Len(t, m.rows, 1)

	// a stale clear for an older event leaves the row alone
	m, _ = step(t, m, clearMsg{url: "http://a:1", at: at.Add(-time.Second)})
	assert.Len(t, m.rows, 1)

	m, _ = step(t, m, clearMsg{url: "http://a:1", at: at})
	assert.Empty(t, m.rows)
}

func TestRowsSortedAndUpdatedInPlace(t *testing.T) {
	m := New(&fakeCtrl{})
	m, _ = step(t, m, statusMsg{URL: "http://b:1", State: models.StateChecking, Attempt: 1})
	m, _ = step(t, m, statusMsg{URL: "http://a:1", State: models.StateChecking, Attempt: 1})
	m, _ = step(t, m, statusMsg{URL: "http://b:1", State: models.StateError, Attempt: 2})

	require.Len(t, m.rows, 2)
	assert.Equal(t, "http://a:1", m.rows[0].URL)
	assert.Equal(t, models.StateError, m.rows[1].State)
	assert.Contains(t, m.View(), "retrying")
}

func TestToastsExpire(t *testing.T) {
	m := New(&fakeCtrl{})
	m, cmd := step(t, m, noteMsg{Title: "Connected", Severity: models.SeveritySuccess})
	require.NotNil(t, cmd)
	require.Len(t, m.toasts, 1)
	assert.Contains(t, m.View(), "Connected")

	m, _ = step(t, m, dismissMsg(m.toasts[0].id))
	assert.Empty(t, m.toasts)
}

func TestToastsCapped(t *testing.T) {
	m := New(&fakeCtrl{})
	for i := 0; i < maxToasts+2; i++ {
		m, _ = step(t, m, noteMsg{Title: "n"})
	}
	assert.Len(t, m.toasts, maxToasts)
	assert.Equal(t, maxToasts+2, m.toasts[len(m.toasts)-1].id)
}

func TestMonitorForm(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := New(ctrl)

	m, _ = step(t, m, key("n"))
	require.Equal(t, formURLs, m.form)
	m, _ = step(t, m, key("enter"))
	assert.Equal(t, formURLs, m.form)
	assert.NotEmpty(t, m.errorMsg)

	m = typeText(t, m, "http://a:1, http://b:2")
	m, _ = step(t, m, key("enter"))
	assert.Equal(t, formNone, m.form)
	require.Len(t, ctrl.started, 1)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, ctrl.started[0])

	m, _ = step(t, m, key("p"))
	m = typeText(t, m, "http://devbox")
	m, _ = step(t, m, key("enter"))
	assert.Equal(t, "http://devbox", ctrl.quick)

	m, _ = step(t, m, key("c"))
	assert.Equal(t, "no urls to monitor", m.errorMsg)
}

func TestStopSelectedRow(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := New(ctrl)
	m, _ = step(t, m, statusMsg{URL: "http://a:1", State: models.StateError, Attempt: 1})
	m, _ = step(t, m, statusMsg{URL: "http://b:1", State: models.StateError, Attempt: 1})
	m, _ = step(t, m, key("j"))
	m, _ = step(t, m, key("d"))
	assert.Equal(t, []string{"http://b:1"}, ctrl.stopped)
}

func TestConnectionTab(t *testing.T) {
	ctrl := &fakeCtrl{}
	m := New(ctrl)
	m, _ = step(t, m, key("tab"))
	require.Equal(t, tabConnection, m.tab)

	m, _ = step(t, m, key("t"))
	assert.Equal(t, 1, ctrl.tests)
	view := m.View()
	assert.Contains(t, view, "ws://x:1")
	assert.Contains(t, view, "1,234")

	m, _ = step(t, m, key("e"))
	require.Equal(t, formEndpoint, m.form)
	assert.Equal(t, "ws://x:1", m.input.Value())

	m.input.SetValue("http://bad")
	m, _ = step(t, m, key("enter"))
	assert.Equal(t, formEndpoint, m.form)

	m.input.SetValue("wss://good/ws")
	m, _ = step(t, m, key("enter"))
	assert.Equal(t, formNone, m.form)
	assert.Equal(t, "wss://good/ws", ctrl.endpoint)
}

func TestLogsRefreshOnTick(t *testing.T) {
	m := New(&fakeCtrl{})
	m, cmd := step(t, m, tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	m.tab = tabLogs
	assert.Contains(t, m.View(), "[09:30:00] http://a:1 is up (attempt 1)")
}

func TestBridgeWithoutProgramsIsUnavailable(t *testing.T) {
	b := NewBridge()
	assert.ErrorIs(t, b.Notify(models.Notification{Title: "x"}), alert.ErrUnavailable)
	b.OnStatus(models.StatusEvent{URL: "http://a"})
}

func TestBridgeFullOutboxIsUnavailable(t *testing.T) {
	b := NewBridge()
	// an outbox nobody drains and with no room left
	stuck := make(chan tea.Msg)
	b.programs[&tea.Program{}] = stuck

	assert.ErrorIs(t, b.Notify(models.Notification{Title: "late"}), alert.ErrUnavailable)

	// one program with room is enough
	p := tea.NewProgram(recorder{}, tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer())
	b.Attach(p)
	t.Cleanup(func() {
		b.Detach(p)
		p.Kill()
	})
	assert.NoError(t, b.Notify(models.Notification{Title: "late"}))
}

type recorder struct{ got []tea.Msg }

func (r recorder) Init() tea.Cmd { return nil }
func (r recorder) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case statusMsg:
		r.got = append(r.got, msg)
	case noteMsg:
		r.got = append(r.got, msg)
		return r, tea.Quit
	}
	return r, nil
}
func (r recorder) View() string { return "" }

func TestBridgeDeliversToAttachedProgram(t *testing.T) {
	p := tea.NewProgram(recorder{}, tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer())
	b := NewBridge()
	b.Attach(p)
	assert.Equal(t, 1, b.Len())

	done := make(chan tea.Model, 1)
	go func() {
		final, _ := p.Run()
		done <- final
	}()

	b.OnStatus(models.StatusEvent{URL: "http://a:1", State: models.StateChecking})
	require.NoError(t, b.Notify(models.Notification{Title: "hi"}))

	select {
	case final := <-done:
		got := final.(recorder).got
		require.Len(t, got, 2)
		assert.Equal(t, "http://a:1", got[0].(statusMsg).URL)
		assert.Equal(t, "hi", got[1].(noteMsg).Title)
	case <-time.After(5 * time.Second):
		t.Fatal("program did not receive messages")
	}

	b.Detach(p)
	assert.Equal(t, 0, b.Len())
}
