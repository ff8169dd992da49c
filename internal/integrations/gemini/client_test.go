package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neuroexpert-api/internal/domain"
)

type fakeKeys struct {
	vals  map[string]string
	err   error
	names []string
}

func (f *fakeKeys) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	if v, ok := f.vals[name]; ok {
		return v, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return "", errors.New(name + " is not set")
}

type capture struct {
	path  string
	key   string
	body  generateRequest
	calls int
}

func newServer(t *testing.T, status int, reply string, got *capture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.calls++
		got.path = r.URL.Path
		got.key = r.URL.Query().Get("key")
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got.body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okReply = `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"in_scope\":true,\"answer\":\"Аудит стоит от 50 000 ₽\"}"}]},"finishReason":"STOP"}]}`

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}

func TestGenerateURL(t *testing.T) {
	require.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent",
		generateURL(DefaultBaseURL+"/", DefaultModel))
}

func TestResolveAPIKey_FallsBackToGeminiName(t *testing.T) {
	keys := &fakeKeys{vals: map[string]string{"GEMINI_API_KEY": "g-key"}}
	c, err := NewClient(keys)
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "g-key", key)
	require.Equal(t, KeyNames, keys.names)

	_, err = c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Len(t, keys.names, 2)
}

func TestResolveAPIKey_NoneConfigured(t *testing.T) {
	c, err := NewClient(&fakeKeys{})
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no key configured")
}

func TestChat_MapsRolesAndParsesText(t *testing.T) {
	var got capture
	srv := newServer(t, http.StatusOK, okReply, &got)
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), "claude-sonnet", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Ты консультант NeuroExpert"},
		{Role: domain.RoleUser, Content: "Привет"},
		{Role: domain.RoleAssistant, Content: "Здравствуйте"},
		{Role: domain.RoleUser, Content: "Сколько стоит аудит?"},
	})
	require.NoError(t, err)
	require.Contains(t, out, `"in_scope":true`)

	require.Equal(t, "/v1beta/models/"+DefaultModel+":generateContent", got.path)
	require.Equal(t, "secret", got.key)
	require.NotNil(t, got.body.SystemInstruction)
	require.Equal(t, "Ты консультант NeuroExpert", got.body.SystemInstruction.Parts[0].Text)
	require.Len(t, got.body.Contents, 3)
	require.Equal(t, []string{"user", "model", "user"}, []string{
		got.body.Contents[0].Role, got.body.Contents[1].Role, got.body.Contents[2].Role,
	})
	require.NotNil(t, got.body.GenerationConfig)
	require.Equal(t, "application/json", got.body.GenerationConfig.ResponseMimeType)
}

func TestChat_UsesRequestedGeminiModel(t *testing.T) {
	var got capture
	srv := newServer(t, http.StatusOK, okReply, &got)
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "gemini-1.5-pro", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "/v1beta/models/gemini-1.5-pro:generateContent", got.path)
}

func TestChat_Non200(t *testing.T) {
	var got capture
	srv := newServer(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, &got)
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(srv.URL), WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	require.Error(t, err)
	require.Equal(t, 3, got.calls)

	var statusErr interface{ HTTPStatusCode() int }
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
	require.NotContains(t, err.Error(), "secret")
}

func TestChat_EmptyCandidates(t *testing.T) {
	var got capture
	srv := newServer(t, http.StatusOK, `{"candidates":[]}`, &got)
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty response")
}

func TestChat_NoContentSkipsRequest(t *testing.T) {
	var got capture
	srv := newServer(t, http.StatusOK, okReply, &got)
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "", []domain.ChatMessage{{Role: domain.RoleSystem, Content: "only system"}})
	require.ErrorIs(t, err, domain.ErrEmptyPrompt)
	require.Zero(t, got.calls)
}

func TestForward_ReshapesPromptAndRelaysStatus(t *testing.T) {
	var got capture
	srv := newServer(t, http.StatusTooManyRequests, `{"error":{"code":429}}`, &got)
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	relay, err := c.Forward(context.Background(), []byte(`{"prompt":"Расскажите о цифровом аудите","model":"gpt-4o"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, relay.StatusCode)
	require.JSONEq(t, `{"error":{"code":429}}`, string(relay.Body))

	require.Equal(t, "/v1beta/models/"+DefaultModel+":generateContent", got.path)
	require.Len(t, got.body.Contents, 1)
	require.Equal(t, "Расскажите о цифровом аудите", got.body.Contents[0].Parts[0].Text)
	require.Nil(t, got.body.GenerationConfig)
}

func TestForward_MessagesList(t *testing.T) {
	var got capture
	srv := newServer(t, http.StatusOK, okReply, &got)
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	relay, err := c.Forward(context.Background(), []byte(`{"messages":[{"role":"system","content":"sys"},{"role":"user","content":"q"}]}`))
	require.NoError(t, err)
	require.True(t, relay.OK())
	require.NotNil(t, got.body.SystemInstruction)
	require.Len(t, got.body.Contents, 1)
}

func TestForward_BadBodies(t *testing.T) {
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}})
	require.NoError(t, err)

	_, err = c.Forward(context.Background(), []byte(`not json`))
	require.Error(t, err)

	_, err = c.Forward(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrEmptyPrompt)
}

func TestForward_TransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "very-secret"}}, WithBaseURL(base))
	require.NoError(t, err)

	_, err = c.Forward(context.Background(), []byte(`{"message":"hi"}`))
	require.Error(t, err)
	require.NotContains(t, err.Error(), "very-secret")
}

func newSequenceServer(t *testing.T, statuses []int, replies []string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		i := int(calls.Add(1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		w.WriteHeader(statuses[i])
		_, _ = w.Write([]byte(replies[i]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRetryingClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(&fakeKeys{vals: map[string]string{"GOOGLE_API_KEY": "secret"}}, WithBaseURL(url), WithRetries(2, time.Millisecond))
	require.NoError(t, err)
	return c
}

var hi = []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}

func TestChat_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := newSequenceServer(t,
		[]int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK},
		[]string{`{}`, `{}`, okReply},
		&calls)

	text, err := newRetryingClient(t, srv.URL).Chat(context.Background(), "", hi)
	require.NoError(t, err)
	require.Contains(t, text, "Аудит стоит от 50 000 ₽")
	require.EqualValues(t, 3, calls.Load())
}

func TestChat_QuotaIsRetriedThenReported(t *testing.T) {
	var calls atomic.Int32
	body := `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded"}}`
	srv := newSequenceServer(t, []int{http.StatusTooManyRequests}, []string{body}, &calls)

	_, err := newRetryingClient(t, srv.URL).Chat(context.Background(), "", hi)
	require.ErrorIs(t, err, domain.ErrLLMQuota)
	require.EqualValues(t, 3, calls.Load())

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestChat_InvalidKeyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	body := `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`
	srv := newSequenceServer(t, []int{http.StatusBadRequest}, []string{body}, &calls)

	_, err := newRetryingClient(t, srv.URL).Chat(context.Background(), "", hi)
	require.ErrorIs(t, err, domain.ErrLLMAuth)
	require.EqualValues(t, 1, calls.Load())
	require.NotContains(t, err.Error(), "secret")
}

func TestChat_MissingKeyIsAuthError(t *testing.T) {
	c, err := NewClient(&fakeKeys{})
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", hi)
	require.ErrorIs(t, err, domain.ErrLLMAuth)
}

func TestChat_SafetyBlock(t *testing.T) {
	cases := map[string]string{
		"prompt feedback":  `{"promptFeedback":{"blockReason":"SAFETY"}}`,
		"candidate filter": `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := newSequenceServer(t, []int{http.StatusOK}, []string{reply}, &calls)

			_, err := newRetryingClient(t, srv.URL).Chat(context.Background(), "", hi)
			require.ErrorIs(t, err, domain.ErrLLMBlocked)
			require.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestChat_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newSequenceServer(t, []int{http.StatusBadRequest}, []string{`{"error":{"message":"bad schema"}}`}, &calls)

	_, err := newRetryingClient(t, srv.URL).Chat(context.Background(), "", hi)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrLLMAuth)
	require.EqualValues(t, 1, calls.Load())
}

func TestForward_DoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := newSequenceServer(t, []int{http.StatusServiceUnavailable}, []string{`{"error":"overloaded"}`}, &calls)

	relay, err := newRetryingClient(t, srv.URL).Forward(context.Background(), []byte(`{"prompt":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, relay.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}
