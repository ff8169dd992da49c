// Package locale serves the user-facing strings of the site API and the chat
// widget. Russian is the source language; English is a translation.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

const (
	ChatGreeting     = "ChatGreeting"
	ChatError        = "ChatError"
	ChatTimeout      = "ChatTimeout"
	ChatUnavailable  = "ChatUnavailable"
	ChatOffTopic     = "ChatOffTopic"
	ChatBlocked      = "ChatBlocked"
	ChatContactSaved = "ChatContactSaved"
	ContactThanks    = "ContactThanks"
	ContactRequired  = "ContactRequired"
	ContactFailed    = "ContactFailed"

	ErrorInvalidInput = "ErrorInvalidInput"
	ErrorRateLimited  = "ErrorRateLimited"
	ErrorUpstream     = "ErrorUpstream"
	ErrorTimeout      = "ErrorTimeout"
	ErrorInternal     = "ErrorInternal"

	ErrorQuota         = "ErrorQuota"
	ErrorMisconfigured = "ErrorMisconfigured"
	ErrorSessionLimit  = "ErrorSessionLimit"
)

//go:embed messages/*.json
var messageFiles embed.FS

// Catalog resolves message IDs for a requested language, falling back to the
// default language and finally to the message ID itself.
type Catalog struct {
	bundle   *i18n.Bundle
	fallback string
}

// New loads the embedded message files. defaultLang is used when a request does
// not name a supported language; an empty value means Russian.
func New(defaultLang string) (*Catalog, error) {
	bundle := i18n.NewBundle(language.Russian)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	paths, err := fs.Glob(messageFiles, "messages/*.json")
	if err != nil {
		return nil, fmt.Errorf("locale: list message files: %w", err)
	}
	for _, path := range paths {
		buf, err := messageFiles.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("locale: read %s: %w", path, err)
		}
		if _, err := bundle.ParseMessageFileBytes(buf, path); err != nil {
			return nil, fmt.Errorf("locale: parse %s: %w", path, err)
		}
	}
	if defaultLang == "" {
		defaultLang = language.Russian.String()
	}
	return &Catalog{bundle: bundle, fallback: defaultLang}, nil
}

// MustNew is New for package-level defaults and tests.
func MustNew(defaultLang string) *Catalog {
	c, err := New(defaultLang)
	if err != nil {
		panic(err)
	}
	return c
}

// Text returns the message for id in the best match of lang, which may be a
// tag ("en") or an Accept-Language header value.
func (c *Catalog) Text(lang, id string) string {
	if c == nil {
		return id
	}
	loc := i18n.NewLocalizer(c.bundle, lang, c.fallback)
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: id})
	if err != nil || msg == "" {
		return id
	}
	return msg
}
