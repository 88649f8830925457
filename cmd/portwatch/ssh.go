package main

import (
	"fmt"
	"os"

	"go-portwatch/internal/config"
	"go-portwatch/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	bm "github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/muesli/termenv"
)

// newSSHServer serves the dashboard to every key listed in the
// authorized_keys file. The file is re-read on each login.
func newSSHServer(cfg config.SSHConfig, ctrl tui.Controller, bridge *tui.Bridge, lg *log.Logger) (*ssh.Server, error) {
	handler := func(sess ssh.Session) *tea.Program {
		if _, _, ok := sess.Pty(); !ok {
			return nil
		}
		opts := append(bm.MakeOptions(sess), tea.WithAltScreen())
		p := tea.NewProgram(tui.New(ctrl), opts...)
		bridge.Attach(p)
		go func() {
			<-sess.Context().Done()
			bridge.Detach(p)
		}()
		return p
	}

	return wish.NewServer(
		wish.WithAddress(fmt.Sprintf(":%d", cfg.Port)),
		wish.WithHostKeyPath(cfg.HostKeyPath),
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			data, err := os.ReadFile(cfg.AuthorizedKeys)
			if err != nil {
				lg.Warn("cannot read authorized keys", "path", cfg.AuthorizedKeys, "err", err)
				return false
			}
			return isKeyAllowed(data, key)
		}),
		wish.WithMiddleware(
			bm.MiddlewareWithProgramHandler(handler, termenv.ANSI256),
			activeterm.Middleware(),
			logging.StructuredMiddlewareWithLogger(lg, log.InfoLevel),
		),
	)
}

func isKeyAllowed(authorized []byte, incoming ssh.PublicKey) bool {
	for len(authorized) > 0 {
		allowed, _, _, rest, err := ssh.ParseAuthorizedKey(authorized)
		if err != nil {
			return false
		}
		if ssh.KeysEqual(allowed, incoming) {
			return true
		}
		authorized = rest
	}
	return false
}
