package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"neuroexpert-api/internal/domain"
)

// Upstream forwards a browser body to an LLM provider or the site API.
type Upstream interface {
	Forward(ctx context.Context, raw []byte) (domain.Relay, error)
}

type Reporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// Proxy is the chat passthrough function. It adds no retries, caching or
// auth of its own.
type Proxy struct {
	upstream Upstream
	name     string
	reporter Reporter
}

type ProxyOption func(*Proxy)

// WithUpstreamName labels logs and error reports.
func WithUpstreamName(name string) ProxyOption {
	return func(p *Proxy) {
		p.name = name
	}
}

func WithReporter(r Reporter) ProxyOption {
	return func(p *Proxy) {
		p.reporter = r
	}
}

func NewProxy(upstream Upstream, opts ...ProxyOption) (*Proxy, error) {
	if upstream == nil {
		return nil, errors.New("handler: upstream must not be nil")
	}
	p := &Proxy{upstream: upstream, name: "upstream"}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Proxy) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	cid := header(req.Headers, correlationHeader)
	if cid == "" {
		cid = uuid.NewString()
	}
	log := slog.With(slog.String("correlation_id", cid), slog.String("upstream", p.name))

	switch req.HTTPMethod {
	case http.MethodOptions:
		return preflight(cid), nil
	case http.MethodPost:
	default:
		return methodNotAllowed(cid), nil
	}

	raw, err := requestBody(req)
	if err != nil {
		return p.fail(ctx, log, err, nil, cid), nil
	}
	var meta domain.ProxyRequest
	_ = json.Unmarshal(raw, &meta)
	fields := map[string]any{
		"upstream":   p.name,
		"model":      meta.Model,
		"session_id": meta.SessionID,
	}

	relay, err := p.upstream.Forward(ctx, raw)
	if errors.Is(err, domain.ErrEmptyPrompt) {
		log.Warn("empty prompt")
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: "Prompt is required"}, cid), nil
	}
	if err != nil {
		return p.fail(ctx, log, err, fields, cid), nil
	}
	if !json.Valid(relay.Body) {
		fields["status"] = relay.StatusCode
		return p.fail(ctx, log, fmt.Errorf("%s returned invalid json (status %d)", p.name, relay.StatusCode), fields, cid), nil
	}

	if !relay.OK() {
		log.Warn("upstream error", slog.Int("status", relay.StatusCode))
		if relay.StatusCode >= http.StatusInternalServerError {
			fields["status"] = relay.StatusCode
			p.report(ctx, fmt.Errorf("%s returned status %d", p.name, relay.StatusCode), fields)
		}
		return rawResponse(relay.StatusCode, relay.Body, cid), nil
	}
	log.Info("relayed", slog.Int("status", relay.StatusCode), slog.String("model", meta.Model))
	return rawResponse(http.StatusOK, relay.Body, cid), nil
}

func (p *Proxy) fail(ctx context.Context, log *slog.Logger, err error, fields map[string]any, cid string) events.APIGatewayProxyResponse {
	log.Error("proxy failed", slog.Any("error", err))
	if fields == nil {
		fields = map[string]any{"upstream": p.name}
	}
	p.report(ctx, err, fields)
	return jsonResponse(http.StatusInternalServerError, errorResponse{Error: "Internal server error"}, cid)
}

func (p *Proxy) report(ctx context.Context, err error, fields map[string]any) {
	if p.reporter != nil {
		p.reporter.Report(ctx, err, fields)
	}
}
