package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// 5x5 glyphs for the big countdown
var clockGlyphs = map[rune][5]string{
	'0': {" ███ ", "█   █", "█   █", "█   █", " ███ "},
	'1': {"  █  ", " ██  ", "  █  ", "  █  ", "█████"},
	'2': {" ███ ", "█   █", "   █ ", "  █  ", "█████"},
	'3': {" ███ ", "█   █", "  ██ ", "█   █", " ███ "},
	'4': {"█   █", "█   █", "█████", "    █", "    █"},
	'5': {"█████", "█    ", "████ ", "    █", "████ "},
	'6': {" ███ ", "█    ", "████ ", "█   █", " ███ "},
	'7': {"█████", "    █", "   █ ", "  █  ", " █   "},
	'8': {" ███ ", "█   █", " ███ ", "█   █", " ███ "},
	'9': {" ███ ", "█   █", " ████", "    █", " ███ "},
	':': {"     ", "  █  ", "     ", "  █  ", "     "},
}

// renderBigClock draws the remaining exam time. The last minute is red,
// the last five are amber.
func renderBigClock(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	hours := int(remaining.Hours())
	minutes := int(remaining.Minutes()) % 60
	seconds := int(remaining.Seconds()) % 60

	timeStr := fmt.Sprintf("%02d:%02d", minutes, seconds)
	if hours > 0 {
		timeStr = fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}

	var lines [5]strings.Builder
	for _, char := range timeStr {
		glyph, ok := clockGlyphs[char]
		if !ok {
			continue
		}
		for i := range glyph {
			lines[i].WriteString(glyph[i])
			lines[i].WriteString(" ")
		}
	}

	color := ColorAccentBright
	switch {
	case remaining <= time.Minute:
		color = ColorError
	case remaining <= 5*time.Minute:
		color = ColorWarning
	}
	clockStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)

	rendered := make([]string, len(lines))
	for i := range lines {
		rendered[i] = clockStyle.Render(lines[i].String())
	}
	return strings.Join(rendered, "\n")
}
