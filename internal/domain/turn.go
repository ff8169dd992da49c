package domain

import "time"

// Turn is a single persisted exchange between a site visitor and the assistant.
type Turn struct {
	ID             string
	SessionID      string
	UserMessage    string
	AIResponse     string
	Model          string
	RequestedModel string
	UserData       *UserData
	CreatedAt      time.Time
	TTL            int64
}

// Complete reports whether both sides of the exchange are present and the
// turn can be replayed as prompt history.
func (t Turn) Complete() bool {
	return t.UserMessage != "" && t.AIResponse != ""
}

// SessionMeta stores aggregate session state.
type SessionMeta struct {
	SessionID    string
	LastActivity time.Time
	Turns        int
	TTL          int64
}
