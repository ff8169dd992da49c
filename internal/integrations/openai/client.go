package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"neuroexpert-api/internal/domain"
)

const (
	DefaultBaseURL = "https://agentrouter.org/v1"
	DefaultModel   = "gpt-4o"
	APIKeyName     = "AGENT_ROUTER_API_KEY"

	maxErrorBody    = 4096
	maxResponseBody = 1 << 20
)

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to an OpenAI-compatible gateway (Agent Router by default).
// It serves both the assistant flow (Chat) and the raw passthrough (Forward).
type Client struct {
	baseURL      string
	httpClient   *http.Client
	keys         Getter
	keyName      string
	defaultModel string
	systemPrompt string

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = s
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithDefaultModel sets the model used when a passthrough body names none.
func WithDefaultModel(model string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(model); s != "" {
			c.defaultModel = s
		}
	}
}

// WithSystemPrompt sets the system message prepended to reshaped passthrough bodies.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		c.systemPrompt = strings.TrimSpace(prompt)
	}
}

// NewClient creates a Client that resolves its bearer token through keys on
// first use. A failed lookup is retried on the next call.
func NewClient(keys Getter, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("openai: key getter must not be nil")
	}
	c := &Client{
		baseURL:      DefaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		keys:         keys,
		keyName:      APIKeyName,
		defaultModel: DefaultModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := c.keys.GetParameter(ctx, c.keyName)
	if err != nil {
		return "", fmt.Errorf("openai: resolve api key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("openai: API token is empty")
	}
	c.apiKey = key
	return key, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Chat sends messages and returns the first choice's content. The reply is
// constrained to the scoped answer JSON schema.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}

	body, err := json.Marshal(chatRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: scopedAnswerResponseFormat(),
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	relay, err := c.post(ctx, body)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	if !relay.OK() {
		return "", fmt.Errorf("openai: request failed: %w", &HTTPStatusError{
			StatusCode: relay.StatusCode,
			URL:        chatURL(c.baseURL),
			Body:       truncate(relay.Body, maxErrorBody),
		})
	}

	var payload chatResponse
	if decErr := json.Unmarshal(relay.Body, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

// Forward relays a browser request body to the chat completions endpoint.
// Bodies with a messages array pass through untouched; {prompt|message}
// bodies are reshaped into a system+user conversation. Any upstream status is
// returned as a Relay; only transport failures are errors.
func (c *Client) Forward(ctx context.Context, raw []byte) (domain.Relay, error) {
	body, err := c.reshape(raw)
	if err != nil {
		return domain.Relay{}, err
	}
	relay, err := c.post(ctx, body)
	if err != nil {
		return domain.Relay{}, fmt.Errorf("openai: forward: %w", err)
	}
	return relay, nil
}

func (c *Client) reshape(raw []byte) ([]byte, error) {
	var in domain.ProxyRequest
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("openai: decode proxy body: %w", err)
	}
	if in.HasMessages() {
		return raw, nil
	}
	text := in.Text()
	if text == "" {
		return nil, domain.ErrEmptyPrompt
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = c.defaultModel
	}
	messages := make([]domain.ChatMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: c.systemPrompt})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: text})

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal proxy body: %w", err)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, body []byte) (domain.Relay, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.Relay{}, err
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(c.baseURL), bytes.NewReader(body))
	if reqErr != nil {
		return domain.Relay{}, fmt.Errorf("create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return domain.Relay{}, doErr
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return domain.Relay{}, fmt.Errorf("read response body: %w", err)
	}
	return domain.Relay{StatusCode: res.StatusCode, Body: buf}, nil
}

func scopedAnswerResponseFormat() *responseFormat {
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchemaConfig{
			Name:   "scoped_answer",
			Strict: true,
			Schema: json.RawMessage(`{
				"type":"object",
				"additionalProperties":false,
				"properties":{
					"in_scope":{"type":"boolean"},
					"answer":{"type":"string"}
				},
				"required":["in_scope","answer"]
			}`),
		},
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
