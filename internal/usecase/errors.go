package usecase

import "fmt"

// ErrorCode is the machine-readable failure class the site API returns in
// {"error": code}. Each code maps to one HTTP status and one visitor message.
type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorContentBlocked  ErrorCode = "CONTENT_BLOCKED"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorMisconfigured   ErrorCode = "LLM_MISCONFIGURED"
	ErrorUnavailable     ErrorCode = "UNAVAILABLE"
	ErrorTimeout         ErrorCode = "TIMEOUT"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error is a failed chat or contact request. Reason is a snake_case detail
// for logs (e.g. "missing_fields: name", "llm_quota_exceeded") and never
// reaches the visitor.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
