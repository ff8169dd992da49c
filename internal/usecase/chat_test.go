package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"neuroexpert-api/internal/domain"
	"neuroexpert-api/internal/locale"
)

func scopedResponse(inScope bool, answer string) string {
	return fmt.Sprintf(`{"in_scope":%t,"answer":%q}`, inScope, answer)
}

func reply(answer string) []chatResponse {
	return []chatResponse{{answer: scopedResponse(true, answer)}}
}

func newTestChat(t *testing.T, deps ChatDeps, opts ChatOptions) *ChatService {
	t.Helper()
	if deps.History == nil {
		deps.History = &mockHistory{}
	}
	svc, err := NewChatService(deps, opts)
	require.NoError(t, err)
	return svc
}

func expectChatError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewChatService_Validation(t *testing.T) {
	_, err := NewChatService(ChatDeps{History: &mockHistory{}}, ChatOptions{})
	require.Error(t, err)

	_, err = NewChatService(ChatDeps{Primary: &mockLLM{}}, ChatOptions{})
	require.Error(t, err)
}

func TestChat_InputValidation(t *testing.T) {
	svc := newTestChat(t, ChatDeps{Primary: &mockLLM{responses: reply("ok")}}, ChatOptions{MaxMessageLen: 5})

	_, err := svc.Chat(context.Background(), ChatInput{Message: "hi"})
	expectChatError(t, err, ErrorInvalidInput, "empty_session_id")

	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "   "})
	expectChatError(t, err, ErrorInvalidInput, "empty_message")

	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "привет!"})
	expectChatError(t, err, ErrorInvalidInput, "message_too_long")
}

func TestChat_HappyPathPersistsTurn(t *testing.T) {
	llm := &mockLLM{responses: reply("Аудит стоит от 50 000 ₽")}
	history := &mockHistory{turns: []domain.Turn{{UserMessage: "Привет", AIResponse: "Здравствуйте"}}}
	svc := newTestChat(t, ChatDeps{Primary: llm, History: history}, ChatOptions{})

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "Сколько стоит аудит?", Model: "gpt-4o"})
	require.NoError(t, err)
	require.Equal(t, "Аудит стоит от 50 000 ₽", out.Response)
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, "gpt-4o", out.Model)
	require.True(t, out.InScope)

	require.Equal(t, []string{"gpt-4o"}, llm.models)
	require.Len(t, llm.captured, 5)
	require.Equal(t, "Привет", llm.captured[2].Content)

	require.Len(t, history.saved, 1)
	saved := history.saved[0]
	require.Equal(t, "s1", saved.SessionID)
	require.Equal(t, "gpt-4o", saved.RequestedModel)
	require.NotEmpty(t, saved.ID)
	require.Nil(t, saved.UserData)
}

func TestChat_ModelRouting(t *testing.T) {
	cases := []struct {
		requested string
		wantModel string
	}{
		{"", "claude-sonnet-4-20250514"},
		{"claude-sonnet", "claude-sonnet-4-20250514"},
		{"gpt-4o", "gpt-4o"},
		{"llama-3", "claude-sonnet-4-20250514"},
	}
	for _, tc := range cases {
		llm := &mockLLM{responses: reply("ok")}
		svc := newTestChat(t, ChatDeps{Primary: llm}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi", Model: tc.requested})
		require.NoError(t, err, tc.requested)
		require.Equal(t, []string{tc.wantModel}, llm.models, tc.requested)
	}
}

func TestChat_GeminiModelGoesToFallbackClient(t *testing.T) {
	primary := &mockLLM{responses: reply("primary")}
	gemini := &mockLLM{responses: reply("gemini")}
	svc := newTestChat(t, ChatDeps{Primary: primary, Fallback: gemini}, ChatOptions{FallbackModel: "gemini-1.5-flash"})

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi", Model: "gemini"})
	require.NoError(t, err)
	require.Equal(t, "gemini", out.Response)
	require.Equal(t, "gemini-1.5-flash", out.Model)
	require.Zero(t, primary.callCount)
}

func TestChat_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &mockLLM{responses: []chatResponse{{err: &statusErr{code: http.StatusBadGateway}}}}
	gemini := &mockLLM{responses: reply("from gemini")}
	history := &mockHistory{}
	svc := newTestChat(t, ChatDeps{Primary: primary, Fallback: gemini, History: history}, ChatOptions{FallbackModel: "gemini-1.5-flash"})

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi", Model: "claude-sonnet"})
	require.NoError(t, err)
	require.Equal(t, "from gemini", out.Response)
	require.Equal(t, "gemini-1.5-flash", history.saved[0].Model)
	require.Equal(t, "claude-sonnet", history.saved[0].RequestedModel)
}

func TestChat_OffTopicReturnsLocalizedReply(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: scopedResponse(false, "")}}}
	history := &mockHistory{}
	svc := newTestChat(t, ChatDeps{Primary: llm, History: history}, ChatOptions{})

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "Какая погода?"})
	require.NoError(t, err)
	require.False(t, out.InScope)
	require.Equal(t, locale.MustNew("").Text("ru", locale.ChatOffTopic), out.Response)
	require.Empty(t, history.saved)
}

func TestChat_PlainTextReplyIsAccepted(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "  Конечно, поможем!  "}}}
	svc := newTestChat(t, ChatDeps{Primary: llm}, ChatOptions{})

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "Конечно, поможем!", out.Response)
}

func TestChat_ScopedAnswerWithExtraFieldsIsUnwrapped(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: `{"in_scope":true,"answer":"Аудит от 50 000 ₽","confidence":0.9}`}}}
	history := &mockHistory{}
	svc := newTestChat(t, ChatDeps{Primary: llm, History: history}, ChatOptions{})

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "Сколько стоит аудит?"})
	require.NoError(t, err)
	require.Equal(t, "Аудит от 50 000 ₽", out.Response)
	require.Len(t, history.saved, 1)
	require.Equal(t, "Аудит от 50 000 ₽", history.saved[0].AIResponse)
}

func TestChat_InScopeWithEmptyAnswer(t *testing.T) {
	history := &mockHistory{}
	svc := newTestChat(t, ChatDeps{
		Primary: &mockLLM{responses: []chatResponse{{answer: `{"in_scope":true,"answer":""}`}}},
		History: history,
	}, ChatOptions{})

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	expectChatError(t, err, ErrorUpstream, "llm_empty_response")
	require.Empty(t, out.Response)
	require.Empty(t, history.saved)
}

func TestChat_BrokenScopedJSON(t *testing.T) {
	history := &mockHistory{}
	svc := newTestChat(t, ChatDeps{
		Primary: &mockLLM{responses: []chatResponse{{answer: `{"in_scope":true,"answer":`}}},
		History: history,
	}, ChatOptions{})

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	expectChatError(t, err, ErrorUpstream, "llm_invalid_response")
	require.Empty(t, history.saved)
}

func TestChat_EmptyReply(t *testing.T) {
	svc := newTestChat(t, ChatDeps{Primary: &mockLLM{responses: []chatResponse{{answer: "  "}}}}, ChatOptions{})
	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	expectChatError(t, err, ErrorUpstream, "llm_empty_response")
}

func TestChat_ErrorMapping(t *testing.T) {
	t.Run("rate limited is not reported", func(t *testing.T) {
		reporter := &mockReporter{}
		svc := newTestChat(t, ChatDeps{
			Primary:  &mockLLM{responses: []chatResponse{{err: &statusErr{code: http.StatusTooManyRequests}}}},
			Reporter: reporter,
		}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorRateLimited, "llm_rate_limited")
		reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("server error is reported", func(t *testing.T) {
		reporter := &mockReporter{}
		reporter.On("Report", mock.Anything, mock.Anything, mock.MatchedBy(func(f map[string]any) bool {
			return f["status"] == http.StatusServiceUnavailable && f["session_id"] == "s1"
		})).Once()
		svc := newTestChat(t, ChatDeps{
			Primary:  &mockLLM{responses: []chatResponse{{err: &statusErr{code: http.StatusServiceUnavailable}}}},
			Reporter: reporter,
		}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorUpstream, "llm_error")
		reporter.AssertExpectations(t)
	})

	t.Run("client error is not reported", func(t *testing.T) {
		reporter := &mockReporter{}
		svc := newTestChat(t, ChatDeps{
			Primary:  &mockLLM{responses: []chatResponse{{err: &statusErr{code: http.StatusBadRequest}}}},
			Reporter: reporter,
		}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorUpstream, "llm_error")
		reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("quota exhausted", func(t *testing.T) {
		svc := newTestChat(t, ChatDeps{
			Primary: &mockLLM{responses: []chatResponse{{err: fmt.Errorf("gemini: %w", domain.ErrLLMQuota)}}},
		}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorRateLimited, "llm_quota_exceeded")
	})

	t.Run("safety block", func(t *testing.T) {
		reporter := &mockReporter{}
		history := &mockHistory{}
		svc := newTestChat(t, ChatDeps{
			Primary:  &mockLLM{responses: []chatResponse{{err: fmt.Errorf("gemini: %w: SAFETY", domain.ErrLLMBlocked)}}},
			Reporter: reporter,
			History:  history,
		}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorContentBlocked, "llm_content_blocked")
		reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything, mock.Anything)
		require.Empty(t, history.saved)
	})

	t.Run("rejected key is reported", func(t *testing.T) {
		reporter := &mockReporter{}
		reporter.On("Report", mock.Anything, mock.Anything, mock.Anything).Once()
		svc := newTestChat(t, ChatDeps{
			Primary:  &mockLLM{responses: []chatResponse{{err: &statusErr{code: http.StatusUnauthorized}}}},
			Reporter: reporter,
		}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorMisconfigured, "llm_auth_error")
		reporter.AssertExpectations(t)
	})

	t.Run("invalid gemini key", func(t *testing.T) {
		reporter := &mockReporter{}
		reporter.On("Report", mock.Anything, mock.Anything, mock.Anything).Once()
		svc := newTestChat(t, ChatDeps{
			Primary:  &mockLLM{responses: []chatResponse{{err: fmt.Errorf("gemini: %w", domain.ErrLLMAuth)}}},
			Reporter: reporter,
		}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorMisconfigured, "llm_auth_error")
		reporter.AssertExpectations(t)
	})

	t.Run("timeout", func(t *testing.T) {
		svc := newTestChat(t, ChatDeps{Primary: &mockLLM{block: true}}, ChatOptions{CallTimeout: 10 * time.Millisecond})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		expectChatError(t, err, ErrorTimeout, "llm_timeout")
	})

	t.Run("gemini requested without fallback client", func(t *testing.T) {
		svc := newTestChat(t, ChatDeps{Primary: &mockLLM{responses: reply("ok")}}, ChatOptions{})
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi", Model: "gemini"})
		expectChatError(t, err, ErrorUnavailable, "no_llm_configured")
	})
}

func TestChat_HistoryFailuresDegrade(t *testing.T) {
	llm := &mockLLM{responses: reply("ok")}
	history := &mockHistory{loadErr: errors.New("throttled")}
	svc := newTestChat(t, ChatDeps{Primary: llm, History: history}, ChatOptions{})

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	require.Len(t, llm.captured, 3)

	history.saveErr = errors.New("write failed")
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	expectChatError(t, err, ErrorInternal, "history_write_error")
}

func TestChat_SessionTurnLimit(t *testing.T) {
	llm := &mockLLM{responses: reply("ok")}
	sessions := &mockSessions{meta: domain.SessionMeta{Turns: 3}}
	history := &mockHistory{}
	svc := newTestChat(t, ChatDeps{Primary: llm, History: history, Sessions: sessions}, ChatOptions{MaxSessionTurns: 3})

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	expectChatError(t, err, ErrorRateLimited, "session_turn_limit")
	require.Zero(t, llm.callCount)
	require.Empty(t, history.saved)

	sessions.meta.Turns = 2
	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Response)
	require.Equal(t, 2, sessions.calls)
}

func TestChat_SessionMetaFailureLetsTurnThrough(t *testing.T) {
	llm := &mockLLM{responses: reply("ok")}
	sessions := &mockSessions{err: errors.New("throttled")}
	svc := newTestChat(t, ChatDeps{Primary: llm, Sessions: sessions}, ChatOptions{})

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, sessions.calls)
}

func TestChat_DefaultTurnLimit(t *testing.T) {
	sessions := &mockSessions{meta: domain.SessionMeta{Turns: defaultMaxSessionTurns}}
	svc := newTestChat(t, ChatDeps{Primary: &mockLLM{responses: reply("ok")}, Sessions: sessions}, ChatOptions{})

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
	expectChatError(t, err, ErrorRateLimited, "session_turn_limit")
}

func TestChat_LeadNotification(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("Enabled").Return(true)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(html string) bool {
		return assertContainsAll(html, "Лид из AI-чата", "+7 999 123-45-67", "Иван")
	})).Return(errors.New("telegram down")).Once()

	history := &mockHistory{}
	svc := newTestChat(t, ChatDeps{
		Primary:  &mockLLM{responses: reply("Спасибо, перезвоним")},
		History:  history,
		Notifier: notifier,
	}, ChatOptions{})

	out, err := svc.Chat(context.Background(), ChatInput{
		SessionID: "s1",
		Message:   "Позвоните мне +7 999 123-45-67",
		UserData:  &domain.UserData{Name: "Иван"},
	})
	require.NoError(t, err)
	require.Equal(t, "Спасибо, перезвоним", out.Response)
	require.Equal(t, "+7 999 123-45-67", history.saved[0].UserData.Contact)
	notifier.AssertExpectations(t)
}

func TestChat_NoLeadWithoutContact(t *testing.T) {
	notifier := &mockNotifier{}
	svc := newTestChat(t, ChatDeps{Primary: &mockLLM{responses: reply("ok")}, Notifier: notifier}, ChatOptions{})
	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "Расскажите о цифровом аудите"})
	require.NoError(t, err)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestChat_CatalogFromParams(t *testing.T) {
	params := &mockParams{vals: map[string]string{
		"/neuroexpert/catalog": `{"company":{"name":"Acme Digital"},"services":{"seo":{"name":"SEO","price_min":1000,"price_max":2000,"time":"1 неделя"}}}`,
	}}
	llm := &mockLLM{responses: reply("ok")}
	svc := newTestChat(t, ChatDeps{Params: params, Primary: llm}, ChatOptions{ParamPrefix: "/neuroexpert/"})

	for range 2 {
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		require.NoError(t, err)
	}
	require.Equal(t, 1, params.calls)
	require.Contains(t, llm.captured[1].Content, "Acme Digital")
	require.Contains(t, llm.captured[1].Content, "от 1 000 до 2 000 ₽")
}

func TestChat_CatalogParamFailureUsesEmbeddedAndRetries(t *testing.T) {
	params := &mockParams{err: errors.New("temporary ssm failure")}
	llm := &mockLLM{responses: reply("ok")}
	svc := newTestChat(t, ChatDeps{Params: params, Primary: llm}, ChatOptions{ParamPrefix: "/neuroexpert"})

	for range 2 {
		_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hi"})
		require.NoError(t, err)
	}
	require.Equal(t, 2, params.calls)
	require.Contains(t, llm.captured[1].Content, "NeuroExpert")
}

func assertContainsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
