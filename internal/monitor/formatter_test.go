package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		name     string
		n        int64
		expected string
	}{
		{"zero", 0, "0"},
		{"small", 950, "950"},
		{"thousands", 12_345, "12.3K"},
		{"exact_thousand", 1_000, "1.0K"},
		{"millions", 4_520_000, "4.5M"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatTokens(tt.n))
		})
	}
}

func TestFormatLimit(t *testing.T) {
	assert.Equal(t, "950 / unlimited", FormatLimit(950, 0))
	assert.Equal(t, "12.3K / 100.0K", FormatLimit(12_345, 100_000))
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		name     string
		usd      float64
		expected string
	}{
		{"normal", 0.0034, "$0.0034"},
		{"zero", 0.0, "$0.0000"},
		{"large", 12.3456, "$12.3456"},
		{"very_small", 0.00001, "$0.0000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatCost(tt.usd))
		})
	}
}

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		expected string
	}{
		{"normal", 0.985, "98.5%"},
		{"zero", 0.0, "0.0%"},
		{"one", 1.0, "100.0%"},
		{"over_hundred", 1.5, "150.0%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatPercentage(tt.ratio))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{"seconds", 42 * time.Second, "42s"},
		{"minutes", 3*time.Minute + 5*time.Second, "3m 5s"},
		{"hours", 2*time.Hour + 15*time.Minute, "2h 15m"},
		{"negative", -time.Second, "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.d))
		})
	}
}

func TestFormatSince(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", FormatSince(time.Time{}, now))
	assert.Equal(t, "1m 30s ago", FormatSince(now.Add(-90*time.Second), now))
}

func TestUsageRatio(t *testing.T) {
	assert.Zero(t, usageRatio(500, 0, 10, 0))
	assert.InDelta(t, 0.5, usageRatio(500, 1000, 1, 100), 1e-9)
	assert.InDelta(t, 0.8, usageRatio(500, 1000, 80, 100), 1e-9)
	assert.InDelta(t, 1.0, usageRatio(5000, 1000, 0, 0), 1e-9)
}
