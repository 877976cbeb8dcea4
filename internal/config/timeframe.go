package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimeframe converts a timeframe string such as "15m", "2h" or "1d"
// into minutes. Values at or below the per-unit floor (0.05m, 0.005h,
// 0.001d) collapse to zero minutes; negative values are rejected.
func ParseTimeframe(timeframe string) (int, error) {
	if timeframe == "" || strings.ContainsAny(timeframe, " \t\n") {
		return 0, fmt.Errorf("invalid timeframe format %q: use 'Xm', 'Xh', or 'Xd'", timeframe)
	}

	unit := timeframe[len(timeframe)-1]
	value, err := strconv.ParseFloat(timeframe[:len(timeframe)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe format %q: use 'Xm', 'Xh', or 'Xd'", timeframe)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid timeframe format %q: use 'Xm', 'Xh', or 'Xd'", timeframe)
	}

	switch unit {
	case 'm':
		if value <= 0.05 {
			return 0, nil
		}
		return int(value), nil
	case 'h':
		if value <= 0.005 {
			return 0, nil
		}
		return int(value * 60), nil
	case 'd':
		if value <= 0.001 {
			return 0, nil
		}
		return int(value * 1440), nil
	default:
		return 0, fmt.Errorf("invalid timeframe format %q: use 'Xm', 'Xh', or 'Xd'", timeframe)
	}
}

// FormatTimeframe renders minutes back into the shortest exact timeframe
// string. Multiples of a day render as "Xd", of an hour as "Xh", otherwise
// "Xm". ParseTimeframe(FormatTimeframe(n)) == n for any non-negative n.
func FormatTimeframe(minutes int) string {
	switch {
	case minutes >= 1440 && minutes%1440 == 0:
		return fmt.Sprintf("%dd", minutes/1440)
	case minutes >= 60 && minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
