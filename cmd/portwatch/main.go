package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go-portwatch/internal/app"
	"go-portwatch/internal/config"
	"go-portwatch/internal/logger"
	"go-portwatch/internal/monitor"
	"go-portwatch/internal/server"
	"go-portwatch/internal/store"
	"go-portwatch/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "portwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("PORTWATCH_CONFIG"), "Path to YAML config file")
	httpPort := flag.Int("port", 0, "HTTP API port (overrides server.addr)")
	sshPort := flag.Int("ssh-port", 0, "SSH port to listen on")
	dbPath := flag.String("db", "", "SQLite path or postgres:// URL")
	keysPath := flag.String("keys", "", "Path to authorized_keys file")
	headless := flag.Bool("headless", false, "Never start the local dashboard")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if *httpPort > 0 {
		cfg.Server.Addr = ":" + strconv.Itoa(*httpPort)
	}
	if *sshPort > 0 {
		cfg.SSH.Port = *sshPort
	}
	if *dbPath != "" {
		cfg.Database.URL = *dbPath
	}
	if *keysPath != "" {
		cfg.SSH.AuthorizedKeys = *keysPath
	}

	interactive := !*headless && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

	out, closeLog, err := logger.Output(cfg.Log.File, interactive)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeLog()
	lg, err := logger.New(cfg.Log.Level, cfg.Log.Format, out)
	if err != nil {
		return err
	}
	log.SetDefault(lg)

	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bridge := tui.NewBridge()
	host, err := app.New(app.Deps{
		Config:      cfg,
		Store:       st,
		Logger:      lg,
		StatusSinks: []monitor.StatusSink{bridge},
		Direct:      bridge,
	})
	if err != nil {
		return err
	}
	host.Start()
	defer host.Shutdown()

	api := server.New(host, server.Config{Addr: cfg.Server.Addr, AdminSecret: cfg.Server.AdminSecret}, lg.WithPrefix("http"))
	go func() {
		if err := api.ListenAndServe(); err != nil {
			lg.Error("http server stopped", "err", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		api.Shutdown(ctx)
	}()

	if cfg.SSH.SSHEnabled() {
		sshSrv, err := newSSHServer(cfg.SSH, host, bridge, lg.WithPrefix("ssh"))
		if err != nil {
			return fmt.Errorf("ssh server: %w", err)
		}
		go func() {
			lg.Info("ssh server listening", "port", cfg.SSH.Port)
			if err := sshSrv.ListenAndServe(); err != nil {
				lg.Debug("ssh server stopped", "err", err)
			}
		}()
		defer sshSrv.Close()
	}

	if interactive {
		p := tea.NewProgram(tui.New(host), tea.WithAltScreen())
		bridge.Attach(p)
		_, err := p.Run()
		bridge.Detach(p)
		return err
	}

	fmt.Println("portwatch running in HEADLESS mode")
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	fmt.Println("Shutting down...")
	return nil
}
