package media

import "slices"

type Mode string

const (
	ModeVideo    Mode = "video"
	ModeGradient Mode = "gradient"
)

type Source struct {
	URL  string `json:"src"`
	Type string `json:"type"`
}

// Library is the set of encodings the hero video is published in, best first.
type Library struct {
	Sources  []Source
	Poster   string
	Gradient Gradient
}

// DefaultLibrary serves the self-hosted encodes.
var DefaultLibrary = Library{
	Sources: []Source{
		{URL: "/background.webm", Type: "video/webm"},
		{URL: "/background.mp4", Type: "video/mp4"},
	},
	Poster:   "/video-poster.svg",
	Gradient: DefaultGradient,
}

// Selection is the background the page should render.
type Selection struct {
	Mode     Mode     `json:"mode"`
	Reason   Reason   `json:"reason,omitempty"`
	Sources  []Source `json:"sources"`
	Poster   string   `json:"poster,omitempty"`
	Gradient Gradient `json:"gradient"`
	CSS      string   `json:"css"`
}

// GradientClass is the class name the fallback CSS is rendered under.
const GradientClass = "hero-gradient"

// Select applies Preflight to env. Gradient selections carry no sources so the
// page never creates a video element. Mobile clients get the source order
// reversed so the mp4 encode is tried first.
func Select(env Environment, lib Library) Selection {
	sel := Selection{Sources: []Source{}, Gradient: lib.Gradient, CSS: lib.Gradient.CSS(GradientClass)}
	if ok, reason := Preflight(env); !ok {
		sel.Mode = ModeGradient
		sel.Reason = reason
		return sel
	}
	if len(lib.Sources) == 0 {
		sel.Mode = ModeGradient
		return sel
	}
	sel.Mode = ModeVideo
	sel.Poster = lib.Poster
	sel.Sources = append(sel.Sources, lib.Sources...)
	if env.Mobile {
		slices.Reverse(sel.Sources)
	}
	return sel
}
