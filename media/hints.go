package media

import (
	"strconv"
	"strings"
)

// FromClientHints builds an Environment from request headers and query
// parameters. Header names are matched case-insensitively. Battery state has
// no client hint, so the page passes it as ?battery=0.15&charging=false.
func FromClientHints(headers, query map[string]string) Environment {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	env := Environment{
		SaveData:      strings.EqualFold(h["save-data"], "on"),
		EffectiveType: strings.ToLower(h["ect"]),
		Mobile:        h["sec-ch-ua-mobile"] == "?1",
	}
	for _, key := range []string{"sec-ch-viewport-width", "viewport-width"} {
		if w, err := strconv.Atoi(h[key]); err == nil && w > 0 {
			env.ViewportWidth = w
			break
		}
	}
	if v, ok := query["saveData"]; ok {
		if b, err := strconv.ParseBool(v); err == nil && b {
			env.SaveData = true
		}
	}
	if v := strings.TrimSpace(query["effectiveType"]); v != "" && env.EffectiveType == "" {
		env.EffectiveType = strings.ToLower(v)
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(query["battery"]), 64); err == nil && v >= 0 && v <= 1 {
		env.BatteryLevel = &v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(query["charging"])); err == nil {
		env.Charging = &v
	}
	return env
}
