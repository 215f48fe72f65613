package monitor

import (
	"fmt"
	"time"
)

// FormatThreshold formats a confidence threshold with three decimals.
func FormatThreshold(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatCount formats a count, or "n/a" when the server could not determine it.
func FormatCount(n int) string {
	if n < 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d", n)
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatAgo formats the time since t as "Xh Ym ago", or "never" for the zero time.
func FormatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < time.Minute {
		return "just now"
	}
	return FormatDuration(int64(d.Seconds())) + " ago"
}

// HitRate returns hits/(hits+misses), or 0 with no decisions.
func HitRate(hits, misses int64) float64 {
	if hits+misses <= 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
