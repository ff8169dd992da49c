package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxReplyBody = 1 << 20

var (
	ErrTimeout       = errors.New("widget: request timed out")
	ErrMalformed     = errors.New("widget: unrecognized reply")
	ErrEmptyMessage  = errors.New("widget: message is empty")
	ErrBusy          = errors.New("widget: request already in flight")
	ErrUnavailable   = errors.New("widget: chat unavailable")
	ErrUnknownAction = errors.New("widget: unknown quick action")
	ErrValidation    = errors.New("widget: required fields missing")
)

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("widget: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// postJSON sends body and returns the reply of a 2xx response.
func postJSON(ctx context.Context, client *http.Client, url string, body any) ([]byte, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("widget: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("widget: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	reply, err := io.ReadAll(io.LimitReader(res.Body, maxReplyBody))
	if err != nil {
		return nil, fmt.Errorf("widget: read reply: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b := reply
		if len(b) > 512 {
			b = b[:512]
		}
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(b)}
	}
	return reply, nil
}

type chatReply struct {
	Response string `json:"response"`
	Choices  []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// parseReply extracts the assistant text from a site API reply
// ({"response": ...}), an OpenAI-compatible completion or a Gemini
// generateContent reply.
func parseReply(raw []byte) (string, error) {
	var r chatReply
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if s := strings.TrimSpace(r.Response); s != "" {
		return s, nil
	}
	if len(r.Choices) > 0 {
		if s := strings.TrimSpace(r.Choices[0].Message.Content); s != "" {
			return s, nil
		}
	}
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if s := strings.TrimSpace(p.Text); s != "" {
				return s, nil
			}
		}
	}
	return "", ErrMalformed
}
