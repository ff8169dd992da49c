package domain

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const sessionAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns an opaque correlation tag in the form
// session-<unix millis>-<9 base36 chars>.
func NewSessionID(now time.Time) string {
	var b strings.Builder
	b.Grow(9)
	for range 9 {
		b.WriteByte(sessionAlphabet[rand.IntN(len(sessionAlphabet))])
	}
	return "session-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + b.String()
}
