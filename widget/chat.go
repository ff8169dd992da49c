package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"neuroexpert-api/internal/domain"
	"neuroexpert-api/internal/locale"
)

// ContactAnchor is where a page sends visitors once the chat is unavailable.
const ContactAnchor = "#contact"

type QuickAction string

const (
	ActionAudit   QuickAction = "audit"
	ActionAIBot   QuickAction = "ai-bot"
	ActionWebsite QuickAction = "website"
	ActionSupport QuickAction = "support"
)

var quickPrompts = map[QuickAction]string{
	ActionAudit:   "Расскажите о цифровом аудите",
	ActionAIBot:   "Интересует AI-ассистент 24/7",
	ActionWebsite: "Хочу заказать сайт под ключ",
	ActionSupport: "Нужна техподдержка",
}

// QuickButton is a labelled shortcut rendered under the chat input.
type QuickButton struct {
	Label  string
	Action QuickAction
}

// QuickButtons lists the shortcuts in display order.
func QuickButtons() []QuickButton {
	return []QuickButton{
		{Label: "💎 Аудит", Action: ActionAudit},
		{Label: "🤖 AI-бот", Action: ActionAIBot},
		{Label: "🚀 Сайт", Action: ActionWebsite},
		{Label: "🛡️ Поддержка", Action: ActionSupport},
	}
}

// Prompt returns the message a quick action sends.
func (a QuickAction) Prompt() (string, bool) {
	p, ok := quickPrompts[a]
	return p, ok
}

// Reply is the outcome of one send.
type Reply struct {
	Message domain.ChatMessage
	// Notice is a toast to show next to the reply, e.g. when a contact was captured.
	Notice string
	// Retries is how many times the request was repeated.
	Retries int
}

type chatRequest struct {
	SessionID string           `json:"session_id"`
	Message   string           `json:"message"`
	Model     string           `json:"model"`
	UserData  *domain.UserData `json:"user_data,omitempty"`
}

// Chat holds the state of one chat window.
type Chat struct {
	endpoint string
	opts     options

	mu          sync.Mutex
	sessionID   string
	model       string
	messages    []domain.ChatMessage
	userData    domain.UserData
	loading     bool
	unavailable bool
}

// NewChat creates a chat that posts to endpoint, the site API /api/chat or the
// chat proxy.
func NewChat(endpoint string, opts ...Option) (*Chat, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("widget: chat endpoint must not be empty")
	}
	o := buildOptions(opts)
	c := &Chat{endpoint: endpoint, opts: o, model: o.model, sessionID: o.sessionID}
	if c.sessionID == "" {
		c.sessionID = domain.NewSessionID(o.now())
	}
	c.messages = []domain.ChatMessage{c.greeting()}
	return c, nil
}

func (c *Chat) greeting() domain.ChatMessage {
	return domain.ChatMessage{Role: domain.RoleAssistant, Content: c.opts.text(locale.ChatGreeting)}
}

// Messages returns a copy of the history, greeting first.
func (c *Chat) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Chat) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Chat) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *Chat) SetModel(model string) {
	model = strings.TrimSpace(model)
	if model == "" {
		return
	}
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *Chat) UserData() domain.UserData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

func (c *Chat) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Unavailable reports whether retries were exhausted. The page should show
// the banner and link to ContactAnchor.
func (c *Chat) Unavailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailable
}

// Dismiss hides the unavailable banner and allows sending again while keeping
// the history.
func (c *Chat) Dismiss() {
	c.mu.Lock()
	c.unavailable = false
	c.mu.Unlock()
}

// Reset starts a new session with only the greeting.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = domain.NewSessionID(c.opts.now())
	c.messages = []domain.ChatMessage{c.greeting()}
	c.userData = domain.UserData{}
	c.unavailable = false
}

// QuickAction sends the fixed prompt of action.
func (c *Chat) QuickAction(ctx context.Context, action QuickAction) (Reply, error) {
	prompt, ok := action.Prompt()
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return c.Send(ctx, prompt)
}

// Send appends text as a user message, posts it and appends the assistant
// reply. Failures still append an assistant message explaining them.
func (c *Chat) Send(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return Reply{}, ErrBusy
	}
	if c.unavailable {
		c.mu.Unlock()
		return Reply{}, ErrUnavailable
	}
	c.loading = true
	c.messages = append(c.messages, domain.ChatMessage{Role: domain.RoleUser, Content: text})

	var reply Reply
	if contact := domain.ExtractContact(text); contact != "" {
		c.userData.Contact = contact
		reply.Notice = c.opts.text(locale.ChatContactSaved)
	}
	req := chatRequest{SessionID: c.sessionID, Message: text, Model: c.model}
	if c.userData.HasContact() {
		ud := c.userData
		req.UserData = &ud
	}
	c.mu.Unlock()

	answer, retries, err := c.exchange(ctx, req)
	reply.Retries = retries

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false

	switch {
	case err == nil:
		reply.Message = domain.ChatMessage{Role: domain.RoleAssistant, Content: answer}
	case errors.Is(err, ErrTimeout):
		reply.Message = domain.ChatMessage{Role: domain.RoleAssistant, Content: c.opts.text(locale.ChatTimeout)}
	case errors.Is(err, ErrMalformed), ctx.Err() != nil:
		reply.Message = domain.ChatMessage{Role: domain.RoleAssistant, Content: c.opts.text(locale.ChatError)}
	default:
		c.unavailable = true
		reply.Message = domain.ChatMessage{Role: domain.RoleAssistant, Content: c.opts.text(locale.ChatUnavailable)}
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	c.messages = append(c.messages, reply.Message)
	return reply, err
}

// exchange posts req with retries. Non-2xx replies and network errors are
// retried; a timeout, a malformed reply or a cancelled ctx stops at once.
func (c *Chat) exchange(ctx context.Context, req chatRequest) (string, int, error) {
	var (
		answer  string
		retries int
	)
	op := func() error {
		s, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		answer = s
		return nil
	}
	notify := func(err error, delay time.Duration) {
		retries++
		slog.Warn("chat request failed, retrying",
			slog.Int("retry", retries),
			slog.Duration("delay", delay),
			slog.String("session_id", req.SessionID),
			slog.Any("error", err),
		)
		if c.opts.onRetry != nil {
			c.opts.onRetry(retries, delay)
		}
	}
	err := backoff.RetryNotifyWithTimer(op, c.newBackOff(ctx), notify, c.opts.timer)
	return answer, retries, err
}

func (c *Chat) newBackOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.opts.retryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.opts.retryDelay << MaxRetries,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

func (c *Chat) attempt(ctx context.Context, req chatRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	raw, err := postJSON(callCtx, c.opts.httpClient, c.endpoint, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", backoff.Permanent(fmt.Errorf("%w after %s", ErrTimeout, c.opts.timeout))
		}
		return "", err
	}
	answer, err := parseReply(raw)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	return answer, nil
}
