package domain

import (
	"regexp"
	"strings"
)

var (
	phonePattern    = regexp.MustCompile(`(\+7|8)[\s\-]?\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}`)
	telegramPattern = regexp.MustCompile(`@\w+`)
)

// UserData is what the chat learns about a visitor from free text. It is never
// confirmed by the visitor.
type UserData struct {
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// HasContact reports whether a contact handle was captured.
func (u *UserData) HasContact() bool {
	return u != nil && strings.TrimSpace(u.Contact) != ""
}

// ExtractContact returns the first phone number or Telegram handle in text,
// phone first, or "" when there is none.
func ExtractContact(text string) string {
	if m := phonePattern.FindString(text); m != "" {
		return m
	}
	return telegramPattern.FindString(text)
}
