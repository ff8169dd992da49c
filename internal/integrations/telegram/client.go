// Package telegram sends operator notifications through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.telegram.org"

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// ErrNotConfigured is returned by Notify when no bot token or chat id is set.
var ErrNotConfigured = errors.New("telegram: not configured")

type Client struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(baseURL); s != "" {
			c.baseURL = strings.TrimRight(s, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient never fails; an unconfigured client reports Enabled() == false.
func NewClient(token, chatID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      strings.TrimSpace(token),
		chatID:     strings.TrimSpace(chatID),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.token != "" && c.chatID != ""
}

// Notify posts an HTML formatted message to the configured chat.
func (c *Client) Notify(ctx context.Context, html string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: html, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL carries the bot token.
		return errors.New("telegram: send failed: " + strings.ReplaceAll(err.Error(), c.token, "REDACTED"))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("telegram: unexpected status %d: %s", res.StatusCode, string(b))
	}
	return nil
}
