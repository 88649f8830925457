package tui

import (
	"sync"

	"go-portwatch/internal/alert"
	"go-portwatch/internal/models"

	tea "github.com/charmbracelet/bubbletea"
)

const outboxSize = 256

// Bridge forwards monitor events and notifications to every running
// dashboard, local or over SSH. Each program drains its own ordered outbox,
// so senders never wait on an event loop.
type Bridge struct {
	mu       sync.RWMutex
	programs map[*tea.Program]chan tea.Msg
}

func NewBridge() *Bridge {
	return &Bridge{programs: make(map[*tea.Program]chan tea.Msg)}
}

func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.programs[p]; ok {
		return
	}
	box := make(chan tea.Msg, outboxSize)
	b.programs[p] = box
	go func() {
		for msg := range box {
			p.Send(msg)
		}
	}()
}

func (b *Bridge) Detach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if box, ok := b.programs[p]; ok {
		close(box)
		delete(b.programs, p)
	}
}

func (b *Bridge) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.programs)
}

// broadcast reports whether at least one program took the message. A full
// outbox drops the message for that program only.
func (b *Bridge) broadcast(msg tea.Msg) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	accepted := false
	for _, box := range b.programs {
		select {
		case box <- msg:
			accepted = true
		default:
		}
	}
	return accepted
}

// Notify shows n as a toast. When no dashboard is attached, or every
// attached one is backed up, it returns alert.ErrUnavailable so the
// presenter falls back to alert providers.
func (b *Bridge) Notify(n models.Notification) error {
	if !b.broadcast(noteMsg(n)) {
		return alert.ErrUnavailable
	}
	return nil
}

func (b *Bridge) OnStatus(ev models.StatusEvent) { b.broadcast(statusMsg(ev)) }
