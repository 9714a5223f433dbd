package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDelay parses a step delay string into a duration. Accepts standard Go
// durations ("30m", "1h30m") plus a day suffix ("2d") since follow-up
// cadences are usually expressed in days. Empty string and "0" mean
// immediate.
func ParseDelay(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(trimmed, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day delay %q", raw)
		}
		if days < 0 {
			return 0, fmt.Errorf("negative delay %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay %q", raw)
	}
	return d, nil
}
