package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"neuroexpert-api/handler"
	"neuroexpert-api/internal/integrations/backend"
	"neuroexpert-api/internal/integrations/errtrack"
	"neuroexpert-api/internal/integrations/gemini"
	"neuroexpert-api/internal/integrations/openai"
	"neuroexpert-api/internal/integrations/paramstore"
)

func main() {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load config", err)
	}
	setupLogger(cfg.LogLevel)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}
	ssmClient, err := paramstore.NewSSM(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	secrets := paramstore.NewSecrets(ssmClient, cfg.ParamPrefix)

	upstream, err := newUpstream(cfg, secrets)
	if err != nil {
		fatal("failed to create upstream", err)
	}

	dsn := cfg.SentryDSN
	if dsn == "" {
		dsn, _ = secrets.GetParameter(ctx, "SENTRY_DSN")
	}
	reporter, err := errtrack.New(errtrack.Options{
		DSN:         dsn,
		Enabled:     cfg.SentryEnabled,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		fatal("failed to init error tracking", err)
	}

	p, err := handler.NewProxy(upstream,
		handler.WithUpstreamName(cfg.Upstream),
		handler.WithReporter(reporter),
	)
	if err != nil {
		fatal("failed to create proxy", err)
	}
	slog.Info("chat proxy ready", "upstream", cfg.Upstream)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		defer reporter.Flush(2 * time.Second)
		return p.Handle(ctx, req)
	})
}

func newUpstream(cfg config, secrets *paramstore.Secrets) (handler.Upstream, error) {
	switch cfg.Upstream {
	case upstreamGemini:
		return gemini.NewClient(secrets,
			gemini.WithModel(cfg.GeminiModel),
			gemini.WithTimeout(cfg.callTimeout()),
		)
	case upstreamBackend:
		return backend.NewClient(cfg.BackendURL)
	default:
		return openai.NewClient(secrets,
			openai.WithBaseURL(cfg.AgentRouterBaseURL),
			openai.WithSystemPrompt(cfg.systemPrompt()),
		)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
