package media

import (
	"fmt"
	"strings"
)

// Gradient is the animated fallback layer drawn instead of the video.
type Gradient struct {
	Colors   []string `json:"colors"`
	Angle    int      `json:"angle"`
	Duration int      `json:"duration_seconds"`
	Overlay  string   `json:"overlay"`
}

// DefaultGradient matches the site palette behind the hero section.
var DefaultGradient = Gradient{
	Colors:   []string{"#0b0f17", "#1a1f3a", "#3b1d5e", "#0e3a5c"},
	Angle:    135,
	Duration: 18,
	Overlay:  "linear-gradient(to bottom, rgba(11,15,23,0.6), rgba(11,15,23,0.4), rgba(11,15,23,0.6))",
}

// CSS renders the gradient as a class with its keyframes.
func (g Gradient) CSS(class string) string {
	var b strings.Builder
	fmt.Fprintf(&b, ".%s {\n", class)
	fmt.Fprintf(&b, "  background: linear-gradient(%ddeg, %s);\n", g.Angle, strings.Join(g.Colors, ", "))
	b.WriteString("  background-size: 400% 400%;\n")
	fmt.Fprintf(&b, "  animation: %s-shift %ds ease-in-out infinite;\n", class, g.Duration)
	b.WriteString("}\n")
	fmt.Fprintf(&b, "@keyframes %s-shift {\n", class)
	b.WriteString("  0% { background-position: 0% 50%; }\n")
	b.WriteString("  50% { background-position: 100% 50%; }\n")
	b.WriteString("  100% { background-position: 0% 50%; }\n")
	b.WriteString("}\n")
	b.WriteString("@media (prefers-reduced-motion: reduce) {\n")
	fmt.Fprintf(&b, "  .%s { animation: none; }\n", class)
	b.WriteString("}\n")
	return b.String()
}
