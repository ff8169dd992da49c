// Package gemini is a small client for the Google Generative Language
// generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"neuroexpert-api/internal/domain"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-1.5-flash"

	// DefaultMaxRetries is the number of Chat retries after the first attempt.
	DefaultMaxRetries = 2
	// DefaultRetryDelay doubles after every failed Chat attempt.
	DefaultRetryDelay = time.Second

	maxResponseBody = 1 << 20
	maxErrorBody    = 4096
)

// KeyNames are tried in order when resolving the API key.
var KeyNames = []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64         `json:"temperature,omitempty"`
	TopP             float64         `json:"topP,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"system_instruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// blockedFinishReasons end a candidate without text because of a filter.
var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures a non-2xx reply. URL never carries the API key.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	keys       Getter
	maxRetries int
	retryDelay time.Duration

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = strings.TrimRight(s, "/")
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(model); s != "" {
			c.model = s
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each generateContent call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithRetries sets how often Chat repeats a failed call and the first delay.
// Forward never retries.
func WithRetries(maxRetries int, initialDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if initialDelay > 0 {
			c.retryDelay = initialDelay
		}
	}
}

func NewClient(keys Getter, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("gemini: key getter must not be nil")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		keys:       keys,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model is the model used when a caller does not name one.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	var errs []error
	for _, name := range KeyNames {
		key, err := c.keys.GetParameter(ctx, name)
		if err == nil && strings.TrimSpace(key) != "" {
			c.apiKey = strings.TrimSpace(key)
			return c.apiKey, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return "", fmt.Errorf("gemini: resolve api key: %w", errors.Join(append(errs, errors.New("no key configured"))...))
}

func generateURL(baseURL, model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(baseURL, "/"), url.PathEscape(model))
}

// Chat runs a conversation through generateContent. System messages are
// folded into system_instruction and assistant turns become "model" turns.
// The reply is constrained to the scoped answer JSON shape. Transport errors,
// 5xx and quota replies are retried with doubling delays; a rejected key or a
// safety block fails at once. Failures wrap domain.ErrLLMAuth,
// domain.ErrLLMQuota or domain.ErrLLMBlocked where they apply.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if !strings.HasPrefix(model, "gemini") {
		model = c.model
	}
	req := toGenerateRequest(messages)
	if len(req.Contents) == 0 {
		return "", domain.ErrEmptyPrompt
	}
	req.GenerationConfig = &generationConfig{
		Temperature:      0.7,
		TopP:             0.95,
		MaxOutputTokens:  2048,
		ResponseMimeType: "application/json",
		ResponseSchema:   scopedAnswerSchema,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}
	if _, err := c.resolveAPIKey(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrLLMAuth, err)
	}

	var text string
	op := func() error {
		s, err := c.generate(ctx, model, body)
		if err != nil {
			return err
		}
		text = s
		return nil
	}
	notify := func(err error, delay time.Duration) {
		slog.Warn("gemini call failed, retrying", "model", model, "delay", delay, "err", err)
	}
	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.retryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.retryDelay << c.maxRetries,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

// generate makes one generateContent call. Errors that retrying cannot fix
// are wrapped in backoff.Permanent.
func (c *Client) generate(ctx context.Context, model string, body []byte) (string, error) {
	relay, err := c.post(ctx, model, body)
	if err != nil {
		err = fmt.Errorf("gemini: request failed: %w", err)
		if ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	if !relay.OK() {
		return "", classifyStatus(relay, generateURL(c.baseURL, model))
	}

	var payload generateResponse
	if err := json.Unmarshal(relay.Body, &payload); err != nil {
		return "", backoff.Permanent(fmt.Errorf("gemini: decode response: %w", err))
	}
	if reason := payload.PromptFeedback.BlockReason; reason != "" {
		return "", backoff.Permanent(fmt.Errorf("gemini: %w: prompt %s", domain.ErrLLMBlocked, reason))
	}
	var blocked string
	for _, cand := range payload.Candidates {
		for _, p := range cand.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text, nil
			}
		}
		if blockedFinishReasons[cand.FinishReason] {
			blocked = cand.FinishReason
		}
	}
	if blocked != "" {
		return "", backoff.Permanent(fmt.Errorf("gemini: %w: candidate %s", domain.ErrLLMBlocked, blocked))
	}
	return "", backoff.Permanent(errors.New("gemini: empty response"))
}

func classifyStatus(relay domain.Relay, endpoint string) error {
	b := relay.Body
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	statusErr := &HTTPStatusError{StatusCode: relay.StatusCode, URL: endpoint, Body: string(b)}
	body := strings.ToLower(string(b))

	switch {
	case relay.StatusCode == http.StatusUnauthorized,
		relay.StatusCode == http.StatusForbidden,
		strings.Contains(body, "api_key_invalid"),
		strings.Contains(body, "api key not valid"):
		return backoff.Permanent(fmt.Errorf("gemini: %w: %w", domain.ErrLLMAuth, statusErr))
	case relay.StatusCode == http.StatusTooManyRequests,
		strings.Contains(body, "resource_exhausted"):
		return fmt.Errorf("gemini: %w: %w", domain.ErrLLMQuota, statusErr)
	case relay.StatusCode >= http.StatusInternalServerError:
		return statusErr
	default:
		return backoff.Permanent(statusErr)
	}
}

// Forward reshapes a browser chat body into a generateContent request and
// relays the reply untouched.
func (c *Client) Forward(ctx context.Context, raw []byte) (domain.Relay, error) {
	var in domain.ProxyRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		return domain.Relay{}, fmt.Errorf("gemini: decode proxy body: %w", err)
	}

	var messages []domain.ChatMessage
	if in.HasMessages() {
		if err := json.Unmarshal(in.Messages, &messages); err != nil {
			return domain.Relay{}, fmt.Errorf("gemini: decode messages: %w", err)
		}
	}
	if text := in.Text(); text != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: text})
	}
	req := toGenerateRequest(messages)
	if len(req.Contents) == 0 {
		return domain.Relay{}, domain.ErrEmptyPrompt
	}

	model := c.model
	if strings.HasPrefix(in.Model, "gemini") {
		model = in.Model
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.Relay{}, fmt.Errorf("gemini: marshal request: %w", err)
	}
	relay, err := c.post(ctx, model, body)
	if err != nil {
		return domain.Relay{}, fmt.Errorf("gemini: forward: %w", err)
	}
	return relay, nil
}

func (c *Client) post(ctx context.Context, model string, body []byte) (domain.Relay, error) {
	key, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.Relay{}, err
	}
	endpoint := generateURL(c.baseURL, model) + "?key=" + url.QueryEscape(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Relay{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return domain.Relay{}, redactKey(err, key)
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return domain.Relay{}, fmt.Errorf("read response body: %w", err)
	}
	return domain.Relay{StatusCode: res.StatusCode, Body: buf}, nil
}

func toGenerateRequest(messages []domain.ChatMessage) generateRequest {
	var (
		instructions []string
		req          generateRequest
	)
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch strings.ToLower(m.Role) {
		case domain.RoleSystem:
			instructions = append(instructions, text)
		case domain.RoleAssistant, "model":
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: text}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: text}}})
		}
	}
	if len(instructions) > 0 {
		req.SystemInstruction = &content{Parts: []part{{Text: strings.Join(instructions, "\n\n")}}}
	}
	return req
}

// redactKey strips the API key from transport errors, which embed the URL.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED"))
}

var scopedAnswerSchema = json.RawMessage(`{
	"type":"OBJECT",
	"properties":{
		"in_scope":{"type":"BOOLEAN"},
		"answer":{"type":"STRING"}
	},
	"required":["in_scope","answer"]
}`)
