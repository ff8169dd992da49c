package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"neuroexpert-api/internal/domain"
	"neuroexpert-api/internal/locale"
	"neuroexpert-api/media"
	"neuroexpert-api/internal/usecase"
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type ContactUseCase interface {
	Submit(ctx context.Context, in usecase.ContactInput) (usecase.ContactOutput, error)
}

type Localizer interface {
	Text(lang, id string) string
}

type chatRequest struct {
	SessionID string           `json:"session_id"`
	Message   string           `json:"message"`
	Model     string           `json:"model,omitempty"`
	UserData  *domain.UserData `json:"user_data,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type contactRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Service string `json:"service"`
	Message string `json:"message"`
}

type contactResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

type statusResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type healthResponse struct {
	Status       string          `json:"status"`
	Timestamp    string          `json:"timestamp"`
	Integrations map[string]bool `json:"integrations"`
}

type route func(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest, cid string) events.APIGatewayProxyResponse

// Handler serves the site API behind API Gateway.
type Handler struct {
	chat         ChatUseCase
	contact      ContactUseCase
	loc          Localizer
	library      media.Library
	integrations map[string]bool
	now          func() time.Time
	routes       map[string]map[string]route
}

type Option func(*Handler)

func WithLocalizer(loc Localizer) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

// WithMediaLibrary replaces the background video encodes.
func WithMediaLibrary(lib media.Library) Option {
	return func(h *Handler) {
		h.library = lib
	}
}

// WithIntegrations sets what GET /api/health reports as configured.
func WithIntegrations(status map[string]bool) Option {
	return func(h *Handler) {
		h.integrations = status
	}
}

func NewHandler(chat ChatUseCase, contact ContactUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if contact == nil {
		return nil, errors.New("handler: contact use case must not be nil")
	}
	h := &Handler{
		chat:         chat,
		contact:      contact,
		library:      media.DefaultLibrary,
		integrations: map[string]bool{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.loc == nil {
		loc, err := locale.New("")
		if err != nil {
			return nil, err
		}
		h.loc = loc
	}
	h.routes = map[string]map[string]route{
		"/api":            {http.MethodGet: h.root},
		"/api/health":     {http.MethodGet: h.health},
		"/api/chat":       {http.MethodPost: h.handleChat},
		"/api/contact":    {http.MethodPost: h.handleContact},
		"/api/background": {http.MethodGet: h.background},
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	cid := header(req.Headers, correlationHeader)
	if cid == "" {
		cid = uuid.NewString()
	}
	path := normalizePath(req.Path)
	log := slog.With(
		slog.String("correlation_id", cid),
		slog.String("method", req.HTTPMethod),
		slog.String("path", path),
	)

	if req.HTTPMethod == http.MethodOptions {
		return preflight(cid), nil
	}
	methods, ok := h.routes[path]
	if !ok {
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "Not found"}, cid), nil
	}
	fn, ok := methods[req.HTTPMethod]
	if !ok {
		return methodNotAllowed(cid), nil
	}
	return fn(ctx, log, req, cid), nil
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/api"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func (h *Handler) root(_ context.Context, _ *slog.Logger, _ events.APIGatewayProxyRequest, cid string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusOK, statusResponse{Message: "NeuroExpert API", Status: "healthy"}, cid)
}

func (h *Handler) health(_ context.Context, _ *slog.Logger, _ events.APIGatewayProxyRequest, cid string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusOK, healthResponse{
		Status:       "healthy",
		Timestamp:    h.now().UTC().Format(time.RFC3339),
		Integrations: h.integrations,
	}, cid)
}

func (h *Handler) background(_ context.Context, log *slog.Logger, req events.APIGatewayProxyRequest, cid string) events.APIGatewayProxyResponse {
	env := media.FromClientHints(req.Headers, req.QueryStringParameters)
	sel := media.Select(env, h.library)
	log.Debug("background selected", slog.String("mode", string(sel.Mode)), slog.String("reason", string(sel.Reason)))
	return jsonResponse(http.StatusOK, sel, cid)
}

func (h *Handler) handleChat(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest, cid string) events.APIGatewayProxyResponse {
	lang := header(req.Headers, "Accept-Language")
	var in chatRequest
	if err := decodeBody(req, &in); err != nil {
		log.Warn("invalid chat body", slog.Any("error", err))
		return h.errorResponse(lang, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err}, cid, false)
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{
		SessionID: in.SessionID,
		Message:   in.Message,
		Model:     in.Model,
		UserData:  in.UserData,
		Language:  lang,
	})
	if err != nil {
		logUseCaseError(log, "chat failed", err)
		return h.errorResponse(lang, err, cid, false)
	}
	log.Info("chat answered", slog.String("session_id", out.SessionID), slog.String("model", out.Model), slog.Bool("in_scope", out.InScope))
	return jsonResponse(http.StatusOK, chatResponse{Response: out.Response, SessionID: out.SessionID}, cid)
}

func (h *Handler) handleContact(ctx context.Context, log *slog.Logger, req events.APIGatewayProxyRequest, cid string) events.APIGatewayProxyResponse {
	lang := header(req.Headers, "Accept-Language")
	var in contactRequest
	if err := decodeBody(req, &in); err != nil {
		log.Warn("invalid contact body", slog.Any("error", err))
		return h.errorResponse(lang, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err}, cid, true)
	}

	out, err := h.contact.Submit(ctx, usecase.ContactInput{
		Name:     in.Name,
		Contact:  in.Contact,
		Service:  in.Service,
		Message:  in.Message,
		Language: lang,
	})
	if err != nil {
		logUseCaseError(log, "contact failed", err)
		return h.errorResponse(lang, err, cid, true)
	}
	log.Info("contact stored", slog.String("contact_id", out.ID))
	return jsonResponse(http.StatusOK, contactResponse{Success: out.Success, Message: out.Message, ID: out.ID}, cid)
}

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	body, err := requestBody(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func logUseCaseError(log *slog.Logger, msg string, err error) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		log.Error(msg, slog.String("code", string(ucErr.Code)), slog.String("reason", ucErr.Reason), slog.Any("error", ucErr.Err))
		return
	}
	log.Error(msg, slog.Any("error", err))
}

// errorResponse maps a use case error to a status and a localized message.
func (h *Handler) errorResponse(lang string, err error, cid string, contactForm bool) events.APIGatewayProxyResponse {
	code := usecase.ErrorInternal
	reason := ""
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code, reason = ucErr.Code, ucErr.Reason
	}

	status := http.StatusInternalServerError
	msgID := locale.ErrorInternal
	switch code {
	case usecase.ErrorInvalidInput:
		status, msgID = http.StatusBadRequest, locale.ErrorInvalidInput
		if contactForm {
			msgID = locale.ContactRequired
		}
	case usecase.ErrorInvalidQuestion:
		status, msgID = http.StatusBadRequest, locale.ChatOffTopic
	case usecase.ErrorRateLimited:
		status, msgID = http.StatusTooManyRequests, locale.ErrorRateLimited
		switch reason {
		case "llm_quota_exceeded":
			msgID = locale.ErrorQuota
		case "session_turn_limit":
			msgID = locale.ErrorSessionLimit
		}
	case usecase.ErrorContentBlocked:
		status, msgID = http.StatusUnprocessableEntity, locale.ChatBlocked
	case usecase.ErrorUpstream:
		status, msgID = http.StatusBadGateway, locale.ErrorUpstream
	case usecase.ErrorMisconfigured:
		status, msgID = http.StatusServiceUnavailable, locale.ErrorMisconfigured
	case usecase.ErrorUnavailable:
		status, msgID = http.StatusServiceUnavailable, locale.ChatUnavailable
	case usecase.ErrorTimeout:
		status, msgID = http.StatusGatewayTimeout, locale.ErrorTimeout
	default:
		code = usecase.ErrorInternal
		if contactForm {
			msgID = locale.ContactFailed
		}
	}
	return jsonResponse(status, errorResponse{Error: string(code), Message: h.loc.Text(lang, msgID)}, cid)
}
