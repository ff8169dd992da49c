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

const (
	upstreamAgentRouter = "agentrouter"
	upstreamGemini      = "gemini"
	upstreamBackend     = "backend"
)

type config struct {
	Upstream           string `env:"CHAT_UPSTREAM,default=agentrouter"`
	ParamPrefix        string `env:"PARAM_PREFIX,default=/neuroexpert"`
	AgentRouterBaseURL string `env:"AGENT_ROUTER_BASE_URL"`
	GeminiModel        string `env:"GEMINI_MODEL"`
	GeminiTimeout      int    `env:"GEMINI_TIMEOUT,default=15"`
	BackendURL         string `env:"BACKEND_URL,REACT_APP_BACKEND_URL"`
	SupportEmail       string `env:"SUPPORT_EMAIL,REACT_APP_SUPPORT_EMAIL,default=info@neuroexpert.ru"`
	SentryEnabled      bool   `env:"SENTRY_ENABLED,REACT_APP_SENTRY_ENABLED"`
	SentryDSN          string `env:"SENTRY_DSN,REACT_APP_SENTRY_DSN"`
	Environment        string `env:"ENVIRONMENT,default=development"`
	Release            string `env:"RELEASE"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
}

func loadConfig() (config, error) {
	_ = godotenv.Load()

	var cfg config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.Upstream = strings.ToLower(strings.TrimSpace(cfg.Upstream))
	switch cfg.Upstream {
	case upstreamAgentRouter, upstreamGemini:
	case upstreamBackend:
		if strings.TrimSpace(cfg.BackendURL) == "" {
			return config{}, fmt.Errorf("load config: BACKEND_URL is required when CHAT_UPSTREAM=backend")
		}
	default:
		return config{}, fmt.Errorf("load config: unknown CHAT_UPSTREAM %q", cfg.Upstream)
	}
	return cfg, nil
}

// systemPrompt is prepended to single-prompt bodies sent to Agent Router.
func (c config) systemPrompt() string {
	return "Ты AI-консультант компании NeuroExpert. Отвечай кратко и по делу на русском языке. " +
		"Если вопрос не о наших услугах, предложи связаться с нами: " + c.SupportEmail + "."
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
