package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"neuroexpert-api/internal/domain"
)

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type chatResponse struct {
	answer string
	err    error
}

type mockLLM struct {
	responses []chatResponse
	callCount int
	models    []string
	captured  []domain.ChatMessage
	block     bool
}

func (m *mockLLM) Chat(ctx context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.models = append(m.models, model)
	m.captured = msgs
	if m.block {
		<-ctx.Done()
		return "", fmt.Errorf("llm: request failed: %w", ctx.Err())
	}
	if len(m.responses) == 0 {
		return "", errors.New("no llm response configured")
	}
	idx := m.callCount
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.callCount++
	return m.responses[idx].answer, m.responses[idx].err
}

type mockHistory struct {
	mu      sync.Mutex
	turns   []domain.Turn
	loadErr error
	saveErr error
	saved   []domain.Turn
}

func (m *mockHistory) LoadHistory(_ context.Context, _ string, _ int) ([]domain.Turn, error) {
	return m.turns, m.loadErr
}

func (m *mockHistory) SaveTurn(_ context.Context, turn domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, turn)
	return m.saveErr
}

type mockContacts struct {
	saved []domain.ContactSubmission
	err   error
}

func (m *mockContacts) SaveContact(_ context.Context, c domain.ContactSubmission) error {
	m.saved = append(m.saved, c)
	return m.err
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockNotifier) Notify(ctx context.Context, html string) error {
	return m.Called(ctx, html).Error(0)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Report(ctx context.Context, err error, fields map[string]any) {
	m.Called(ctx, err, fields)
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("unexpected status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

type mockSessions struct {
	meta  domain.SessionMeta
	err   error
	calls int
}

func (m *mockSessions) GetSessionMeta(_ context.Context, sessionID string) (domain.SessionMeta, error) {
	m.calls++
	m.meta.SessionID = sessionID
	return m.meta, m.err
}
