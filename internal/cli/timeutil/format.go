// Package timeutil formats times and durations for CLI output.
package timeutil

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// LocalTimeFormat is used for local times in CLI output.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatUptime turns a Go duration string ("72h30m15s") into
// "3d 0h 30m 15s". Unparseable input is returned unchanged.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatTime renders an RFC 3339 timestamp in local time. Unparseable
// input is returned unchanged.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format(LocalTimeFormat)
}

// FormatExpiry renders t as a local time followed by a relative hint,
// e.g. "Mon Jan 2 15:04:05 2006 (10 hours from now)".
func FormatExpiry(t time.Time) string {
	return fmt.Sprintf("%s (%s)", t.Local().Format(LocalTimeFormat), humanize.Time(t))
}
