package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeDurationRegex = regexp.MustCompile(`^(\d+)\s*(s|sec|secs|second|seconds|m|min|mins|minute|minutes|h|hr|hrs|hour|hours)$`)

// ParseExamDuration parses an exam length
// Supported formats:
// - Go durations (e.g., "30m", "1h30m")
// - X units (e.g., "45 minutes", "2 hours", "90 sec")
// - bare seconds (e.g., "1800")
func ParseExamDuration(input string) (time.Duration, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return 0, fmt.Errorf("duration is required")
	}

	var d time.Duration
	if secs, err := strconv.Atoi(input); err == nil {
		d = time.Duration(secs) * time.Second
	} else if parsed, err := time.ParseDuration(input); err == nil {
		d = parsed
	} else if parsed, err := parseRelativeDuration(input); err == nil {
		d = parsed
	} else {
		return 0, fmt.Errorf("invalid duration format. Use: 30m, 1h30m, X minutes, or seconds")
	}

	if d < time.Minute || d > 12*time.Hour {
		return 0, fmt.Errorf("exam duration must be between 1 minute and 12 hours")
	}
	return d, nil
}

// parseRelativeDuration parses formats like "45 minutes", "2 hours", etc.
func parseRelativeDuration(input string) (time.Duration, error) {
	matches := relativeDurationRegex.FindStringSubmatch(input)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid relative duration format")
	}

	amount, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid number")
	}

	switch matches[2][0] {
	case 's':
		return time.Duration(amount) * time.Second, nil
	case 'm':
		return time.Duration(amount) * time.Minute, nil
	default:
		return time.Duration(amount) * time.Hour, nil
	}
}

// FormatRemaining formats a countdown as MM:SS, or H:MM:SS past an hour
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatAgo formats how long ago t was, relative to now
func FormatAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("02/01/2006 15:04")
	}
}
