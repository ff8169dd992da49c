package domain

// Relay is an upstream HTTP reply handed back to the browser as is.
type Relay struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx upstream status.
func (r Relay) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
