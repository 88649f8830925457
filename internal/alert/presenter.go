package alert

import (
	"errors"
	"io"
	"sync"

	"go-portwatch/internal/models"

	"github.com/charmbracelet/log"
)

// Presenter tries the attached notifier first. When it is missing or
// fails, the fallback is built on first use and kept for later calls.
type Presenter struct {
	logger    *log.Logger
	bootstrap func() (Notifier, error)

	mu       sync.Mutex
	direct   Notifier
	fallback Notifier
}

func NewPresenter(bootstrap func() (Notifier, error), logger *log.Logger) *Presenter {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Presenter{bootstrap: bootstrap, logger: logger}
}

func (p *Presenter) Attach(n Notifier) {
	p.mu.Lock()
	p.direct = n
	p.mu.Unlock()
}

func (p *Presenter) Detach() {
	p.mu.Lock()
	p.direct = nil
	p.mu.Unlock()
}

func (p *Presenter) Notify(n models.Notification) error {
	p.mu.Lock()
	direct := p.direct
	p.mu.Unlock()

	if direct != nil {
		err := direct.Notify(n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnavailable) {
			p.logger.Warn("direct presentation failed", "title", n.Title, "err", err)
		}
	}

	fb, err := p.fallbackNotifier()
	if err != nil {
		p.logger.Error("notification dropped", "title", n.Title, "err", err)
		return err
	}
	if err := fb.Notify(n); err != nil {
		p.logger.Error("fallback presentation failed", "title", n.Title, "err", err)
		return err
	}
	return nil
}

func (p *Presenter) fallbackNotifier() (Notifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fallback != nil {
		return p.fallback, nil
	}
	if p.bootstrap == nil {
		return nil, ErrUnavailable
	}
	fb, err := p.bootstrap()
	if err != nil {
		return nil, err
	}
	p.logger.Debug("fallback presentation ready")
	p.fallback = fb
	return fb, nil
}

// Reset drops the bootstrapped fallback so the next use rebuilds it.
func (p *Presenter) Reset() {
	p.mu.Lock()
	p.fallback = nil
	p.mu.Unlock()
}
