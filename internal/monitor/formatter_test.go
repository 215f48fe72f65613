package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatThreshold(t *testing.T) {
	assert.Equal(t, "0.850", FormatThreshold(0.85))
	assert.Equal(t, "0.845", FormatThreshold(0.845))
	assert.Equal(t, "0.950", FormatThreshold(0.95))
}

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"zero", 0, "0.0%"},
		{"half", 0.5, "50.0%"},
		{"full", 1, "100.0%"},
		{"fraction", 0.8765, "87.7%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
		})
	}
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", FormatCount(0))
	assert.Equal(t, "1234", FormatCount(1234))
	assert.Equal(t, "n/a", FormatCount(-1))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"zero", 0, "0m"},
		{"minutes", 300, "5m"},
		{"hours", 8100, "2h 15m"},
		{"exact_hour", 3600, "1h 0m"},
		{"days", 90000, "25h 0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
		})
	}
}

func TestFormatAgo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "never", FormatAgo(time.Time{}, now))
	assert.Equal(t, "just now", FormatAgo(now.Add(-30*time.Second), now))
	assert.Equal(t, "5m ago", FormatAgo(now.Add(-5*time.Minute), now))
	assert.Equal(t, "6h 0m ago", FormatAgo(now.Add(-6*time.Hour), now))
}

func TestHitRate(t *testing.T) {
	assert.Equal(t, 0.0, HitRate(0, 0))
	assert.Equal(t, 0.75, HitRate(3, 1))
	assert.Equal(t, 1.0, HitRate(4, 0))
}
