// Command agentctld runs the agentctl coordination daemon: it binds the
// unix-socket RPC listener, opens the SQLite-backed stores under the hub
// directory, and drives the SLA, adaptive-SLA, circuit-breaker, watchdog,
// and session-watcher background loops until signaled to stop.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/boshu2/agentctl/internal/config"
	"github.com/boshu2/agentctl/internal/daemon"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentctld:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if os.Getenv("AGENTCTL_DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	d, err := daemon.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("open daemon: %w", err)
	}

	srv := daemon.NewServer(d)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("agentctld: received signal, shutting down", "signal", s.String())
		srv.Shutdown()
	}()

	log.Info("agentctld: starting", "hub_dir", cfg.HubDir)
	if err := srv.Serve(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
