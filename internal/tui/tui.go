package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"go-portwatch/internal/backoff"
	"go-portwatch/internal/journal"
	"go-portwatch/internal/models"
	"go-portwatch/internal/wsclient"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const (
	toastLife     = 5 * time.Second
	successLinger = 3 * time.Second
	maxToasts     = 4
)

var (
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A0A0A0", Dark: "#5C5C5C"})
	specialStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C9A800", Dark: "#F0E442"})
	dangerStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"})
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#3B6FD4", Dark: "#7AA2F7"})
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)

	activeTab   = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).BorderForeground(lipgloss.Color("#7D56F4")).Foreground(lipgloss.Color("#7D56F4")).Bold(true).Padding(0, 1)
	inactiveTab = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.AdaptiveColor{Light: "#AAA", Dark: "#555"})
	toastBox    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	colURL     = lipgloss.NewStyle().Width(36)
	colState   = lipgloss.NewStyle().Width(12)
	colAttempt = lipgloss.NewStyle().Width(9)
)

// Controller is what the dashboard drives. *app.Host implements it.
type Controller interface {
	ConnectionStatus() wsclient.Status
	Reconnect()
	UpdateEndpoint(endpoint string) error
	SendTest()
	Disconnect()

	StartMonitor(urls []string, cfg *backoff.Config) error
	StartCustom() error
	QuickMonitor(base string) error
	StopMonitor(url string) bool
	StopAll() int

	Logs() []journal.Entry
}

type (
	statusMsg  models.StatusEvent
	noteMsg    models.Notification
	tickMsg    time.Time
	dismissMsg int
	clearMsg   struct {
		url string
		at  time.Time
	}
)

type tab int

const (
	tabMonitors tab = iota
	tabConnection
	tabLogs
)

var tabNames = []string{"Monitors", "Connection", "Logs"}

type formKind int

const (
	formNone formKind = iota
	formURLs
	formQuick
	formEndpoint
)

type toast struct {
	id int
	n  models.Notification
}

type Model struct {
	ctrl Controller

	tab    tab
	cursor int
	rows   []models.StatusEvent

	form     formKind
	input    textinput.Model
	errorMsg string

	toasts    []toast
	nextToast int

	conn    wsclient.Status
	spin    spinner.Model
	logView viewport.Model
	width   int
}

func New(ctrl Controller) Model {
	vp := viewport.New(100, 20)
	vp.SetContent("Waiting for logs...")
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle
	return Model{ctrl: ctrl, logView: vp, spin: sp, width: 100}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spin.Tick, func() tea.Msg { return tickMsg(time.Now()) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.logView.Width = msg.Width - 4
		m.logView.Height = msg.Height - 8
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case statusMsg:
		return m, m.applyStatus(models.StatusEvent(msg))

	case clearMsg:
		for i, r := range m.rows {
			if r.URL == msg.url && r.At.Equal(msg.at) && r.State == models.StateSuccess {
				m.rows = append(m.rows[:i], m.rows[i+1:]...)
				break
			}
		}
		m.clampCursor()
		return m, nil

	case noteMsg:
		return m, m.pushToast(models.Notification(msg))

	case dismissMsg:
		for i, t := range m.toasts {
			if t.id == int(msg) {
				m.toasts = append(m.toasts[:i], m.toasts[i+1:]...)
				break
			}
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.form != formNone {
			return m.updateForm(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

// applyStatus upserts the row for the event's URL. Success rows are
// scheduled for removal unless a newer event replaces them first.
func (m *Model) applyStatus(ev models.StatusEvent) tea.Cmd {
	found := false
	for i := range m.rows {
		if m.rows[i].URL == ev.URL {
			m.rows[i] = ev
			found = true
			break
		}
	}
	if !found {
		m.rows = append(m.rows, ev)
		sort.Slice(m.rows, func(i, j int) bool { return m.rows[i].URL < m.rows[j].URL })
	}
	if ev.State != models.StateSuccess {
		return nil
	}
	url, at := ev.URL, ev.At
	return tea.Tick(successLinger, func(time.Time) tea.Msg { return clearMsg{url: url, at: at} })
}

func (m *Model) pushToast(n models.Notification) tea.Cmd {
	m.nextToast++
	id := m.nextToast
	m.toasts = append(m.toasts, toast{id: id, n: n})
	if len(m.toasts) > maxToasts {
		m.toasts = m.toasts[len(m.toasts)-maxToasts:]
	}
	return tea.Tick(toastLife, func(time.Time) tea.Msg { return dismissMsg(id) })
}

func (m *Model) refresh() {
	m.conn = m.ctrl.ConnectionStatus()
	logs := m.ctrl.Logs()
	if len(logs) == 0 {
		return
	}
	lines := make([]string, len(logs))
	for i, e := range logs {
		lines[i] = e.String()
	}
	m.logView.SetContent(strings.Join(lines, "\n"))
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "tab":
		m.tab = (m.tab + 1) % tab(len(tabNames))
		return m, nil
	case "shift+tab":
		m.tab = (m.tab + tab(len(tabNames)) - 1) % tab(len(tabNames))
		return m, nil
	}

	switch m.tab {
	case tabMonitors:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case "n":
			m.openForm(formURLs, "http://localhost:9100, http://localhost:10100")
		case "p":
			m.openForm(formQuick, "http://devbox")
		case "c":
			if err := m.ctrl.StartCustom(); err != nil {
				m.errorMsg = err.Error()
			}
		case "d", "backspace":
			if len(m.rows) > 0 {
				m.ctrl.StopMonitor(m.rows[m.cursor].URL)
			}
		case "D":
			m.ctrl.StopAll()
		}

	case tabConnection:
		switch msg.String() {
		case "r":
			m.ctrl.Reconnect()
		case "t":
			m.ctrl.SendTest()
		case "x":
			m.ctrl.Disconnect()
		case "e":
			m.openForm(formEndpoint, "ws://localhost:25566")
			m.input.SetValue(m.conn.EndpointURL)
		}
		m.refresh()

	case tabLogs:
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) openForm(kind formKind, placeholder string) {
	in := textinput.New()
	in.Placeholder = placeholder
	in.Width = 60
	in.Focus()
	m.input = in
	m.form = kind
	m.errorMsg = ""
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.form = formNone
		m.errorMsg = ""
		return m, nil
	case "enter":
		if err := m.submit(); err != nil {
			m.errorMsg = err.Error()
			return m, nil
		}
		m.form = formNone
		m.errorMsg = ""
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit() error {
	value := strings.TrimSpace(m.input.Value())
	switch m.form {
	case formURLs:
		urls := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
		return m.ctrl.StartMonitor(urls, nil)
	case formQuick:
		return m.ctrl.QuickMonitor(value)
	case formEndpoint:
		return m.ctrl.UpdateEndpoint(value)
	}
	return nil
}

func (m Model) View() string {
	var tabs []string
	for i, name := range tabNames {
		if tab(i) == m.tab {
			tabs = append(tabs, activeTab.Render(name))
		} else {
			tabs = append(tabs, inactiveTab.Render(name))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)

	var body, footer string
	switch {
	case m.form != formNone:
		body = m.viewForm()
		footer = "[Enter] Submit  [Esc] Cancel"
	case m.tab == tabMonitors:
		body = m.viewMonitors()
		footer = "[n] Monitor URLs  [p] Quick ports  [c] Custom list  [d] Stop  [D] Stop all  [Tab] Switch  [q] Quit"
	case m.tab == tabConnection:
		body = m.viewConnection()
		footer = "[r] Reconnect  [e] Edit endpoint  [t] Send test  [x] Disconnect  [Tab] Switch  [q] Quit"
	default:
		body = "\n" + m.logView.View()
		footer = "[Up/Down/PgUp/PgDn] Scroll  [Tab] Switch  [q] Quit"
	}

	out := header + "\n" + body
	if m.errorMsg != "" && m.form == formNone {
		out += "\n" + dangerStyle.Render("Error: "+m.errorMsg)
	}
	if toasts := m.viewToasts(); toasts != "" {
		out += "\n\n" + toasts
	}
	out += "\n" + subtleStyle.Render(footer)
	return lipgloss.NewStyle().Padding(1, 2).Render(out)
}

func (m Model) viewMonitors() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Left,
		colURL.Render("URL"), colState.Render("STATE"), colAttempt.Render("ATTEMPT"), "SINCE"))
	b.WriteString("\n" + subtleStyle.Render(strings.Repeat("-", 72)) + "\n")

	if len(m.rows) == 0 {
		b.WriteString("\n  Nothing monitored. Press [n] to add URLs.")
		return b.String()
	}
	for i, r := range m.rows {
		state := string(r.State)
		switch r.State {
		case models.StateSuccess:
			state = specialStyle.Render("up")
		case models.StateFailed:
			state = dangerStyle.Render("gave up")
		case models.StateError:
			state = warnStyle.Render("retrying")
		case models.StateChecking:
			state = m.spin.View() + " checking"
		}
		row := lipgloss.JoinHorizontal(lipgloss.Left,
			colURL.Render(limitStr(r.URL, 34)),
			colState.Render(state),
			colAttempt.Render(fmt.Sprintf("#%d", r.Attempt)),
			humanize.Time(r.At),
		)
		if i == m.cursor {
			row = lipgloss.NewStyle().Bold(true).Render(">" + row)
		} else {
			row = " " + row
		}
		b.WriteString(row + "\n")
	}
	return b.String()
}

func (m Model) viewConnection() string {
	c := m.conn
	state := dangerStyle.Render(c.State.String())
	switch c.State {
	case wsclient.Connected:
		state = specialStyle.Render(c.State.String())
	case wsclient.Connecting:
		state = m.spin.View() + " " + warnStyle.Render(c.State.String())
	}

	lines := []string{
		"",
		titleStyle.Render("Notification channel"),
		"",
		"Endpoint:       " + c.EndpointURL,
		"State:          " + state,
		"Notifications:  " + humanize.Comma(int64(c.NotificationCount)),
		fmt.Sprintf("Reconnects:     %d/%d", c.ReconnectAttempts, c.MaxReconnectAttempts),
	}
	switch {
	case c.ReconnectPending:
		lines = append(lines, "Next retry in:  "+(time.Duration(c.ReconnectDelayMs)*time.Millisecond).String())
	case c.Exhausted():
		lines = append(lines, dangerStyle.Render("Automatic reconnects exhausted. Press [r] to retry."))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewForm() string {
	title := map[formKind]string{
		formURLs:     "Monitor URLs (comma or space separated)",
		formQuick:    "Quick monitor: base host",
		formEndpoint: "Notification endpoint",
	}[m.form]
	out := "\n" + titleStyle.Render(title) + "\n\n" + m.input.View() + "\n"
	if m.errorMsg != "" {
		out += "\n" + dangerStyle.Render("Error: "+m.errorMsg) + "\n"
	}
	return out
}

func (m Model) viewToasts() string {
	var boxes []string
	for _, t := range m.toasts {
		style := infoStyle
		switch t.n.Severity {
		case models.SeveritySuccess:
			style = specialStyle
		case models.SeverityWarning:
			style = warnStyle
		case models.SeverityError:
			style = dangerStyle
		}
		text := style.Bold(true).Render(t.n.Title)
		if t.n.Message != "" {
			text += "\n" + t.n.Message
		}
		boxes = append(boxes, toastBox.BorderForeground(style.GetForeground()).Render(text))
	}
	return lipgloss.JoinVertical(lipgloss.Left, boxes...)
}

func limitStr(text string, max int) string {
	if len(text) > max {
		return text[:max-3] + "..."
	}
	return text
}
