// Package backend forwards chat bodies to the site API.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"neuroexpert-api/internal/domain"
)

const maxResponseBody = 1 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("backend: base url must not be empty")
	}
	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ChatURL is the site API chat endpoint.
func (c *Client) ChatURL() string {
	return c.baseURL + "/api/chat"
}

// Forward posts raw to the chat endpoint without reshaping it.
func (c *Client) Forward(ctx context.Context, raw []byte) (domain.Relay, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.Relay{}, domain.ErrEmptyPrompt
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ChatURL(), bytes.NewReader(raw))
	if err != nil {
		return domain.Relay{}, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Relay{}, fmt.Errorf("backend: forward: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return domain.Relay{}, fmt.Errorf("backend: read response body: %w", err)
	}
	return domain.Relay{StatusCode: res.StatusCode, Body: buf}, nil
}
