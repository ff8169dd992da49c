package domain

import (
	"encoding/json"
	"strings"
)

// ProxyRequest is the union of the body shapes the site frontend has sent to
// /api/chat across revisions.
type ProxyRequest struct {
	Prompt    string          `json:"prompt,omitempty"`
	Message   string          `json:"message,omitempty"`
	Messages  json.RawMessage `json:"messages,omitempty"`
	Model     string          `json:"model,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Text returns the single-prompt content, preferring prompt over message.
func (p ProxyRequest) Text() string {
	if s := strings.TrimSpace(p.Prompt); s != "" {
		return s
	}
	return strings.TrimSpace(p.Message)
}

// HasMessages reports whether the body already carries a chat message list.
func (p ProxyRequest) HasMessages() bool {
	trimmed := strings.TrimSpace(string(p.Messages))
	return trimmed != "" && trimmed != "null" && trimmed != "[]"
}
