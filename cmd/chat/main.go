// Command chat talks to the site chat API from a terminal, the same way the
// widget on the page does.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load config", err)
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cfg, os.Stdout)
	if err != nil {
		fatal("failed to start chat", err)
	}
	if err := s.run(ctx, os.Stdin); err != nil {
		fatal("chat stopped", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
