// Package media decides whether the decorative hero video should load and
// tracks its playback state once it does.
package media

import "strings"

const (
	// LowBatteryLevel is the charge fraction below which an unplugged device
	// gets the gradient instead of video.
	LowBatteryLevel = 0.2
	// SmallViewportWidth is the CSS pixel width below which video is skipped.
	SmallViewportWidth = 640
)

// Environment is what the browser tells us about the device and network.
// Zero values mean unknown.
type Environment struct {
	SaveData      bool
	EffectiveType string
	BatteryLevel  *float64
	Charging      *bool
	ViewportWidth int
	Mobile        bool
}

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonSaveData      Reason = "save-data"
	ReasonSlowNetwork   Reason = "slow-network"
	ReasonLowBattery    Reason = "low-battery"
	ReasonSmallViewport Reason = "small-viewport"
)

var slowConnections = map[string]struct{}{
	"slow-2g": {},
	"2g":      {},
	"3g":      {},
}

// Preflight reports whether the video may be attached. When it may not, the
// reason names the first failing check.
func Preflight(env Environment) (bool, Reason) {
	if env.SaveData {
		return false, ReasonSaveData
	}
	if _, slow := slowConnections[strings.ToLower(strings.TrimSpace(env.EffectiveType))]; slow {
		return false, ReasonSlowNetwork
	}
	if env.BatteryLevel != nil && *env.BatteryLevel < LowBatteryLevel && !charging(env.Charging) {
		return false, ReasonLowBattery
	}
	if env.ViewportWidth > 0 && env.ViewportWidth < SmallViewportWidth {
		return false, ReasonSmallViewport
	}
	return true, ReasonNone
}

func charging(c *bool) bool {
	return c != nil && *c
}
