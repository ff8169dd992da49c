package domain

import "errors"

// ErrEmptyPrompt is returned when a chat body carries neither a prompt nor a
// message list.
var ErrEmptyPrompt = errors.New("prompt is required")

// LLM failure kinds shared by the provider clients.
var (
	ErrLLMAuth    = errors.New("llm api key rejected")
	ErrLLMQuota   = errors.New("llm quota exceeded")
	ErrLLMBlocked = errors.New("llm safety filter blocked the request")
)
