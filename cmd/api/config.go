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

// config is read only here and passed down explicitly.
type config struct {
	StateTable         string `env:"STATE_TABLE,required=true"`
	ParamPrefix        string `env:"PARAM_PREFIX,default=/neuroexpert"`
	HistoryStore       string `env:"HISTORY_STORE,default=dynamodb"`
	RedisURL           string `env:"REDIS_URL"`
	AgentRouterBaseURL string `env:"AGENT_ROUTER_BASE_URL"`
	GeminiModel        string `env:"GEMINI_MODEL"`
	GeminiTimeout      int    `env:"GEMINI_TIMEOUT,default=15"`
	TelegramChatID     string `env:"TELEGRAM_CHAT_ID"`
	SentryEnabled      bool   `env:"SENTRY_ENABLED,REACT_APP_SENTRY_ENABLED"`
	SentryDSN          string `env:"SENTRY_DSN,REACT_APP_SENTRY_DSN"`
	Environment        string `env:"ENVIRONMENT,default=development"`
	Release            string `env:"RELEASE"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
	DefaultLanguage    string `env:"DEFAULT_LANGUAGE,default=ru"`
	MaxContextTokens   int    `env:"MAX_CONTEXT_TOKENS,default=6000"`
	MaxMessageLength   int    `env:"MAX_MESSAGE_LENGTH,default=2000"`
	MaxSessionTurns    int    `env:"MAX_SESSION_TURNS,default=50"`
}

func loadConfig() (config, error) {
	// A missing .env is normal outside local runs.
	_ = godotenv.Load()

	var cfg config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.HistoryStore = strings.ToLower(strings.TrimSpace(cfg.HistoryStore))
	if cfg.HistoryStore == "redis" && cfg.RedisURL == "" {
		return config{}, fmt.Errorf("load config: REDIS_URL is required when HISTORY_STORE=redis")
	}
	return cfg, nil
}

func (c config) callTimeout() time.Duration {
	return time.Duration(c.GeminiTimeout) * time.Second
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
