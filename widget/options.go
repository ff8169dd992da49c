// Package widget is a Go client for the site chat and contact form. It keeps
// the widget state a page renders from and applies the chat retry policy.
package widget

import (
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"neuroexpert-api/internal/locale"
)

const (
	// MaxRetries is the number of retries after the first chat attempt.
	MaxRetries = 3
	// InitialRetryDelay doubles after every failed attempt.
	InitialRetryDelay = time.Second
	// RequestTimeout bounds a single chat attempt. Hitting it is terminal.
	RequestTimeout = 30 * time.Second
)

type options struct {
	httpClient *http.Client
	catalog    *locale.Catalog
	lang       string
	model      string
	sessionID  string
	timeout    time.Duration
	retryDelay time.Duration
	onRetry    func(attempt int, delay time.Duration)
	timer      backoff.Timer
	now        func() time.Time
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithLanguage picks the language of greeting and notices.
func WithLanguage(lang string) Option {
	return func(o *options) {
		o.lang = strings.TrimSpace(lang)
	}
}

func WithLocale(c *locale.Catalog) Option {
	return func(o *options) {
		if c != nil {
			o.catalog = c
		}
	}
}

// WithModel selects the model sent with each chat message.
func WithModel(model string) Option {
	return func(o *options) {
		if s := strings.TrimSpace(model); s != "" {
			o.model = s
		}
	}
}

// WithSessionID restores a session id kept by the caller, e.g. in a cookie.
func WithSessionID(id string) Option {
	return func(o *options) {
		o.sessionID = strings.TrimSpace(id)
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithOnRetry is called before each retry with the 1-based retry number and
// the delay about to be waited.
func WithOnRetry(fn func(attempt int, delay time.Duration)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

func defaultOptions() options {
	return options{
		httpClient: &http.Client{},
		model:      "gpt-4o",
		timeout:    RequestTimeout,
		retryDelay: InitialRetryDelay,
		now:        time.Now,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.catalog == nil {
		o.catalog = locale.MustNew(o.lang)
	}
	return o
}

func (o *options) text(id string) string {
	return o.catalog.Text(o.lang, id)
}
