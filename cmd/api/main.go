package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"neuroexpert-api/handler"
	"neuroexpert-api/internal/integrations/errtrack"
	"neuroexpert-api/internal/integrations/gemini"
	"neuroexpert-api/internal/integrations/openai"
	"neuroexpert-api/internal/integrations/paramstore"
	"neuroexpert-api/internal/integrations/telegram"
	"neuroexpert-api/internal/integrations/tokenizer"
	"neuroexpert-api/internal/locale"
	"neuroexpert-api/internal/repository"
	"neuroexpert-api/internal/usecase"
)

func main() {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		fatal("failed to load config", err)
	}
	setupLogger(cfg.LogLevel)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Secrets ----
	ssmClient, err := paramstore.NewSSM(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	secrets := paramstore.NewSecrets(ssmClient, cfg.ParamPrefix)

	// ---- Storage ----
	dynamoClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		fatal("failed to create state client", err)
	}
	var (
		history  usecase.TurnStore         = dynamoClient
		sessions usecase.SessionMetaReader = dynamoClient
	)
	if cfg.HistoryStore == "redis" {
		// Session meta is only kept alongside DynamoDB turns.
		sessions = nil
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			fatal("failed to parse REDIS_URL", err)
		}
		history, err = repository.NewRedisHistory(redis.NewClient(opts))
		if err != nil {
			fatal("failed to create redis history", err)
		}
	}

	// ---- Clients ----
	openaiClient, err := openai.NewClient(secrets, openai.WithBaseURL(cfg.AgentRouterBaseURL))
	if err != nil {
		fatal("failed to create Agent Router client", err)
	}
	geminiClient, err := gemini.NewClient(secrets,
		gemini.WithModel(cfg.GeminiModel),
		gemini.WithTimeout(cfg.callTimeout()),
	)
	if err != nil {
		fatal("failed to create Gemini client", err)
	}

	botToken, err := secrets.GetParameter(ctx, "TELEGRAM_BOT_TOKEN")
	if err != nil {
		slog.Warn("telegram notifications disabled", "err", err)
	}
	notifier := telegram.NewClient(botToken, cfg.TelegramChatID)

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

	loc, err := locale.New(cfg.DefaultLanguage)
	if err != nil {
		fatal("failed to load messages", err)
	}

	// ---- Use cases ----
	chatService, err := usecase.NewChatService(usecase.ChatDeps{
		Params:   ssmClient,
		Primary:  openaiClient,
		Fallback: geminiClient,
		History:  history,
		Sessions: sessions,
		Notifier: notifier,
		Reporter: reporter,
		Tokens:   tokenizer.New(openai.DefaultModel),
		Locale:   loc,
	}, usecase.ChatOptions{
		ParamPrefix:      cfg.ParamPrefix,
		CallTimeout:      cfg.callTimeout(),
		MaxContextTokens: cfg.MaxContextTokens,
		MaxMessageLen:    cfg.MaxMessageLength,
		MaxSessionTurns:  cfg.MaxSessionTurns,
	})
	if err != nil {
		fatal("failed to create chat service", err)
	}
	contactService, err := usecase.NewContactService(dynamoClient, notifier, loc)
	if err != nil {
		fatal("failed to create contact service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService, contactService,
		handler.WithLocalizer(loc),
		handler.WithIntegrations(map[string]bool{
			"agent_router": true,
			"gemini":       true,
			"telegram":     notifier.Enabled(),
			"sentry":       reporter.Enabled(),
			"redis":        cfg.HistoryStore == "redis",
		}),
	)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		defer reporter.Flush(2 * time.Second)
		return h.Handle(ctx, req)
	})
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
