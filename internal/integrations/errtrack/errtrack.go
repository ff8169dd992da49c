// Package errtrack reports upstream failures to Sentry with visitor PII
// removed.
package errtrack

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/getsentry/sentry-go"
)

const Filtered = "[FILTERED]"

var (
	requestPIIKeys    = []string{"name", "contact", "email", "phone", "message"}
	breadcrumbPIIKeys = []string{"name", "contact", "email", "phone"}
	extraPIIKey       = regexp.MustCompile(`(?i)name|contact|email|phone|message`)
)

type Options struct {
	DSN         string
	Enabled     bool
	Environment string
	Release     string
}

// ShouldInit reports whether error tracking should start: a DSN is required
// and tracking must be switched on or the environment must be production-like.
func (o Options) ShouldInit() bool {
	if o.DSN == "" {
		return false
	}
	return o.Enabled || o.Environment == "production" || o.Environment == "staging"
}

// Reporter captures errors. The zero value and a nil *Reporter drop everything.
type Reporter struct {
	hub *sentry.Hub
}

func New(opts Options) (*Reporter, error) {
	if !opts.ShouldInit() {
		return &Reporter{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:            opts.DSN,
		Environment:    opts.Environment,
		Release:        opts.Release,
		SendDefaultPII: false,
		BeforeSend:     Scrub,
		IgnoreErrors:   []string{"context canceled"},
	})
	if err != nil {
		return nil, fmt.Errorf("errtrack: init sentry: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Report captures err with fields attached as extras. Extras are scrubbed on
// send like everything else.
func (r *Reporter) Report(_ context.Context, err error, fields map[string]any) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		if len(fields) > 0 {
			scope.SetExtras(fields)
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for queued events. Lambda handlers call it before returning.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}

// Scrub is the BeforeSend hook that strips visitor PII from an event.
func Scrub(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil {
		return nil
	}
	if event.Request != nil && event.Request.Data != "" {
		event.Request.Data = scrubJSON(event.Request.Data)
	}
	for _, b := range event.Breadcrumbs {
		if b == nil {
			continue
		}
		for k, v := range b.Data {
			if slices.Contains(breadcrumbPIIKeys, k) && !isEmpty(v) {
				b.Data[k] = Filtered
			}
		}
	}
	for k := range event.Extra {
		if extraPIIKey.MatchString(k) {
			event.Extra[k] = Filtered
		}
	}
	if hasUser(event.User) {
		id := event.User.ID
		if id == "" {
			id = Filtered
		}
		event.User = sentry.User{ID: id}
	}
	return event
}

// scrubJSON filters PII keys of a JSON object body; anything else is returned
// unchanged.
func scrubJSON(data string) string {
	var body map[string]any
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return data
	}
	for _, k := range requestPIIKeys {
		if v, ok := body[k]; ok && !isEmpty(v) {
			body[k] = Filtered
		}
	}
	out, err := json.Marshal(body)
	if err != nil {
		return data
	}
	return string(out)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	}
	return false
}

func hasUser(u sentry.User) bool {
	return u.ID != "" || u.Email != "" || u.Username != "" || u.Name != "" || u.IPAddress != "" || len(u.Data) > 0
}
