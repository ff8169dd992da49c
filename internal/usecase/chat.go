package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"neuroexpert-api/internal/catalog"
	"neuroexpert-api/internal/domain"
	"neuroexpert-api/internal/locale"
)

const (
	defaultCallTimeout      = 15 * time.Second
	defaultMaxContextTokens = 6000
	defaultMinContextTurns  = 3
	defaultMaxMessageLen    = 2000
	defaultMaxSessionTurns  = 50
	historyFetchLimit       = 50

	// DefaultModel is what visitors get when they do not pick a model.
	DefaultModel = "claude-sonnet"
)

type provider int

const (
	providerPrimary provider = iota
	providerFallback
)

type modelRoute struct {
	provider provider
	model    string
}

// modelRoutes maps the names the widget sends to upstream model ids. Gemini
// routes resolve their model id inside the Gemini client.
var modelRoutes = map[string]modelRoute{
	"claude-sonnet":            {providerPrimary, "claude-sonnet-4-20250514"},
	"claude-sonnet-4-20250514": {providerPrimary, "claude-sonnet-4-20250514"},
	"gpt-4o":                   {providerPrimary, "gpt-4o"},
	"gemini":                   {providerFallback, ""},
}

func resolveModel(requested string) (string, modelRoute) {
	requested = strings.TrimSpace(requested)
	if route, ok := modelRoutes[requested]; ok {
		return requested, route
	}
	return DefaultModel, modelRoutes[DefaultModel]
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type TurnStore interface {
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	SaveTurn(ctx context.Context, turn domain.Turn) error
}

// SessionMetaReader reads the per-session aggregate kept next to the turns.
type SessionMetaReader interface {
	GetSessionMeta(ctx context.Context, sessionID string) (domain.SessionMeta, error)
}

type Notifier interface {
	Enabled() bool
	Notify(ctx context.Context, html string) error
}

type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

type Localizer interface {
	Text(lang, id string) string
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatDeps are the collaborators of ChatService. Primary and History are
// required; the rest may be nil. Without Sessions no turn cap is enforced.
type ChatDeps struct {
	Params   ParamGetter
	Primary  LLMClient
	Fallback LLMClient
	History  TurnStore
	Sessions SessionMetaReader
	Notifier Notifier
	Reporter ErrorReporter
	Tokens   TokenCounter
	Locale   Localizer
}

type ChatOptions struct {
	ParamPrefix      string
	FallbackModel    string
	CallTimeout      time.Duration
	MaxContextTokens int
	MinContextTurns  int
	MaxMessageLen    int
	MaxSessionTurns  int
}

type ChatService struct {
	deps ChatDeps
	opts ChatOptions

	cacheMu     sync.RWMutex
	cacheLoaded bool
	catalog     catalog.Catalog
}

type ChatInput struct {
	SessionID string
	Message   string
	Model     string
	UserData  *domain.UserData
	Language  string
}

type ChatOutput struct {
	Response  string
	SessionID string
	Model     string
	InScope   bool
}

func NewChatService(deps ChatDeps, opts ChatOptions) (*ChatService, error) {
	if deps.Primary == nil && deps.Fallback == nil {
		return nil, errors.New("usecase: at least one llm client is required")
	}
	if deps.History == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	if deps.Tokens == nil {
		deps.Tokens = runeCounter{}
	}
	if deps.Locale == nil {
		deps.Locale = locale.MustNew("")
	}
	opts.ParamPrefix = strings.TrimRight(strings.TrimSpace(opts.ParamPrefix), "/")
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = defaultMaxContextTokens
	}
	if opts.MinContextTurns <= 0 {
		opts.MinContextTurns = defaultMinContextTurns
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = defaultMaxMessageLen
	}
	if opts.MaxSessionTurns <= 0 {
		opts.MaxSessionTurns = defaultMaxSessionTurns
	}
	if opts.FallbackModel == "" {
		opts.FallbackModel = "gemini"
	}
	return &ChatService{deps: deps, opts: opts}, nil
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.opts.MaxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	requested, route := resolveModel(in.Model)
	log := slog.With("session_id", sessionID, "requested_model", requested)

	if err := s.checkTurnLimit(ctx, log, sessionID); err != nil {
		return ChatOutput{}, err
	}

	var history []domain.ChatMessage
	turns, err := s.deps.History.LoadHistory(ctx, sessionID, historyFetchLimit)
	if err != nil {
		log.Warn("chat history unavailable", "err", err)
	} else {
		history = selectHistory(turns, s.deps.Tokens, s.opts.MaxContextTokens, s.opts.MinContextTurns)
	}

	messages := buildPromptMessages(s.loadCatalog(ctx), history, message)
	raw, model, err := s.complete(ctx, log, route, messages)
	if err != nil {
		return ChatOutput{}, s.classify(ctx, err, sessionID, requested)
	}

	decision, err := parseScopedAnswer(raw)
	switch {
	case errors.Is(err, errNotScopedAnswer):
		// Providers that ignore the JSON contract still produce a usable reply.
		log.Debug("scoped answer not returned, using raw reply")
		decision = scopedAnswerResponse{InScope: true, Answer: strings.TrimSpace(raw)}
	case err != nil:
		return ChatOutput{}, newError(ErrorUpstream, "llm_invalid_response", err)
	}
	if decision.Answer == "" && decision.InScope {
		return ChatOutput{}, newError(ErrorUpstream, "llm_empty_response", nil)
	}
	if !decision.InScope {
		log.Info("chat off-topic")
		return ChatOutput{
			Response:  s.deps.Locale.Text(in.Language, locale.ChatOffTopic),
			SessionID: sessionID,
			Model:     model,
		}, nil
	}

	userData := in.UserData
	if !userData.HasContact() {
		if contact := domain.ExtractContact(message); contact != "" {
			userData = &domain.UserData{Contact: contact}
			if in.UserData != nil {
				userData.Name = in.UserData.Name
			}
		}
	}

	turn := domain.Turn{
		ID:             newUUID(),
		SessionID:      sessionID,
		UserMessage:    message,
		AIResponse:     decision.Answer,
		Model:          model,
		RequestedModel: requested,
		UserData:       userData,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.deps.History.SaveTurn(ctx, turn); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "history_write_error", err)
	}

	if userData.HasContact() {
		s.notify(ctx, leadMessage(turn))
	}

	log.Info("chat answered", "model", model, "history_messages", len(history))
	return ChatOutput{
		Response:  decision.Answer,
		SessionID: sessionID,
		Model:     model,
		InScope:   true,
	}, nil
}

// complete asks the routed provider and falls back to Gemini when the primary
// fails. It returns the raw reply and the model that produced it.
func (s *ChatService) complete(ctx context.Context, log *slog.Logger, route modelRoute, messages []domain.ChatMessage) (string, string, error) {
	var primaryErr error
	if route.provider == providerPrimary && s.deps.Primary != nil {
		raw, err := s.call(ctx, s.deps.Primary, route.model, messages)
		if err == nil {
			return raw, route.model, nil
		}
		if s.deps.Fallback == nil || ctx.Err() != nil {
			return "", "", err
		}
		log.Warn("primary llm failed, falling back", "model", route.model, "err", err)
		primaryErr = err
	}
	if s.deps.Fallback == nil {
		return "", "", newError(ErrorUnavailable, "no_llm_configured", nil)
	}
	raw, err := s.call(ctx, s.deps.Fallback, route.model, messages)
	if err != nil {
		if primaryErr != nil {
			log.Error("fallback llm failed", "err", err)
		}
		return "", "", err
	}
	if primaryErr != nil {
		log.Info("fallback llm used", "fallback_model", s.opts.FallbackModel)
	}
	return raw, s.opts.FallbackModel, nil
}

func (s *ChatService) call(ctx context.Context, llm LLMClient, model string, messages []domain.ChatMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	raw, err := llm.Chat(callCtx, model, messages)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return raw, err
}

func (s *ChatService) classify(ctx context.Context, err error, sessionID, requested string) error {
	var usecaseErr *Error
	if errors.As(err, &usecaseErr) {
		return usecaseErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorTimeout, "llm_timeout", err)
	}
	if errors.Is(err, domain.ErrLLMBlocked) {
		return newError(ErrorContentBlocked, "llm_content_blocked", err)
	}
	if errors.Is(err, domain.ErrLLMQuota) {
		return newError(ErrorRateLimited, "llm_quota_exceeded", err)
	}
	status, ok := upstreamStatusCode(err)
	if errors.Is(err, domain.ErrLLMAuth) || status == http.StatusUnauthorized || status == http.StatusForbidden {
		s.report(ctx, err, map[string]any{
			"session_id":      sessionID,
			"requested_model": requested,
			"status":          status,
		})
		return newError(ErrorMisconfigured, "llm_auth_error", err)
	}
	if ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, "llm_rate_limited", err)
	}
	if !ok || status >= http.StatusInternalServerError {
		s.report(ctx, err, map[string]any{
			"session_id":      sessionID,
			"requested_model": requested,
			"status":          status,
		})
	}
	return newError(ErrorUpstream, "llm_error", err)
}

func (s *ChatService) report(ctx context.Context, err error, fields map[string]any) {
	if s.deps.Reporter != nil {
		s.deps.Reporter.Report(ctx, err, fields)
	}
}

func (s *ChatService) notify(ctx context.Context, html string) {
	if s.deps.Notifier == nil || !s.deps.Notifier.Enabled() {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, html); err != nil {
		slog.Warn("telegram notification failed", "err", err)
	}
}

// loadCatalog returns the catalog document stored at <prefix>/catalog, cached
// after the first successful load. Without a parameter store, or when the
// lookup fails, the embedded catalog is used and the lookup is retried on the
// next call.
func (s *ChatService) loadCatalog(ctx context.Context) catalog.Catalog {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		c := s.catalog
		s.cacheMu.RUnlock()
		return c
	}
	s.cacheMu.RUnlock()

	if s.deps.Params == nil || s.opts.ParamPrefix == "" {
		return catalog.Default()
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.catalog
	}
	raw, err := s.deps.Params.GetParameter(ctx, s.opts.ParamPrefix+"/catalog")
	if err != nil {
		slog.Warn("catalog parameter unavailable, using embedded catalog", "err", err)
		return catalog.Default()
	}
	c, err := catalog.Parse([]byte(raw))
	if err != nil {
		slog.Warn("catalog parameter invalid, using embedded catalog", "err", err)
		return catalog.Default()
	}
	s.catalog = c
	s.cacheLoaded = true
	return c
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

type runeCounter struct{}

func (runeCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

var newUUID = func() string {
	return uuid.NewString()
}

// checkTurnLimit rejects sessions that already used MaxSessionTurns. A failed
// meta read lets the turn through.
func (s *ChatService) checkTurnLimit(ctx context.Context, log *slog.Logger, sessionID string) error {
	if s.deps.Sessions == nil {
		return nil
	}
	meta, err := s.deps.Sessions.GetSessionMeta(ctx, sessionID)
	if err != nil {
		log.Warn("session meta unavailable", "err", err)
		return nil
	}
	if meta.Turns >= s.opts.MaxSessionTurns {
		log.Info("session turn limit reached", "turns", meta.Turns, "limit", s.opts.MaxSessionTurns)
		return newError(ErrorRateLimited, "session_turn_limit", nil)
	}
	return nil
}
