package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type config struct {
	BackendURL   string `env:"BACKEND_URL,REACT_APP_BACKEND_URL,default=http://localhost:8080"`
	ChatEndpoint string `env:"CHAT_ENDPOINT"`
	Model        string `env:"CHAT_MODEL"`
	Language     string `env:"CHAT_LANGUAGE,default=ru"`
	Timeout      int    `env:"CHAT_TIMEOUT,default=30"`
	LogLevel     string `env:"LOG_LEVEL,default=warn"`
}

func loadConfig() (config, error) {
	_ = godotenv.Load()

	var cfg config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	if cfg.BackendURL == "" {
		return config{}, fmt.Errorf("load config: BACKEND_URL must not be empty")
	}
	if strings.TrimSpace(cfg.ChatEndpoint) == "" {
		cfg.ChatEndpoint = cfg.BackendURL + "/api/chat"
	}
	return cfg, nil
}

func (c config) timeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// setupLogger writes to stderr so log lines never mix with the conversation.
func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
