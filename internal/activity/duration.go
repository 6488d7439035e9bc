package activity

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDuration converts a textual duration to whole minutes. It accepts
// either "H:MM" (any number of hour digits) or a bare integer number of
// minutes. Anything else yields 0 — malformed durations fall back to zero
// instead of failing the request, so a bad value never blocks an edit.
func ParseDuration(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	if h, m, ok := splitClock(text); ok {
		return h*60 + m
	}

	if mins, err := strconv.Atoi(text); err == nil && mins >= 0 {
		return mins
	}
	return 0
}

// FormatDuration renders minutes as zero-padded "HH:MM". Hours have no upper
// bound; 6000 minutes formats as "100:00".
func FormatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ApplyDurationDelta adds deltaMinutes to the duration encoded in text and
// returns the canonical "HH:MM" result. Accumulated effort never goes
// negative; the result is clamped at zero.
func ApplyDurationDelta(text string, deltaMinutes int) string {
	total := ParseDuration(text) + deltaMinutes
	if total < 0 {
		total = 0
	}
	return FormatDuration(total)
}

func splitClock(text string) (hours, minutes int, ok bool) {
	h, m, found := strings.Cut(text, ":")
	if !found {
		return 0, 0, false
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 {
		return 0, 0, false
	}
	minutes, err = strconv.Atoi(m)
	if err != nil || minutes < 0 {
		return 0, 0, false
	}
	return hours, minutes, true
}
