package monitor

import (
	"fmt"
	"time"
)

// FormatTokens formats a token count as "950", "12.3K" or "4.5M".
func FormatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatLimit formats a usage counter against its limit. Zero means unlimited.
func FormatLimit(used, limit int64) string {
	if limit <= 0 {
		return FormatTokens(used) + " / unlimited"
	}
	return FormatTokens(used) + " / " + FormatTokens(limit)
}

// FormatCost formats an estimated spend in USD.
func FormatCost(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats d as "Xh Ym", "Xm Ys" or "Xs".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// FormatSince formats how long ago t was, or "never" for the zero time.
func FormatSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return FormatDuration(now.Sub(t)) + " ago"
}

// usageRatio is the larger of the token and call ratios, capped at 1. It is
// zero when neither limit is set.
func usageRatio(tokens, tokenLimit, calls, callLimit int64) float64 {
	ratio := 0.0
	if tokenLimit > 0 {
		ratio = float64(tokens) / float64(tokenLimit)
	}
	if callLimit > 0 {
		if r := float64(calls) / float64(callLimit); r > ratio {
			ratio = r
		}
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}
