package tui

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// alertState fades a highlight on monitor rows whose violation count just
// went up, so new violations catch the invigilator's eye
type alertState struct {
	fade      time.Duration
	trueColor bool
	seen      map[string]int       // last known violation count per student
	raisedAt  map[string]time.Time // when the count last went up
}

func newAlertState(fade time.Duration) *alertState {
	return &alertState{
		fade:      fade,
		trueColor: os.Getenv("COLORTERM") == "truecolor",
		seen:      make(map[string]int),
		raisedAt:  make(map[string]time.Time),
	}
}

// observe records the latest count for key. The first sighting of a key
// never raises an alert.
func (a *alertState) observe(key string, count int, now time.Time) {
	prev, known := a.seen[key]
	a.seen[key] = count
	if known && count > prev {
		a.raisedAt[key] = now
	}
}

// forget drops keys that left the list
func (a *alertState) forget(keep map[string]bool) {
	for key := range a.seen {
		if !keep[key] {
			delete(a.seen, key)
			delete(a.raisedAt, key)
		}
	}
}

// active reports whether any alert still needs animation ticks
func (a *alertState) active(now time.Time) bool {
	for _, at := range a.raisedAt {
		if now.Sub(at) < a.fade {
			return true
		}
	}
	return false
}

// weight is 1 right after a raise and decays to 0 over the fade window
func (a *alertState) weight(key string, now time.Time) float64 {
	at, ok := a.raisedAt[key]
	if !ok {
		return 0
	}
	t := now.Sub(at).Seconds() / a.fade.Seconds()
	if t >= 1 || t < 0 {
		return 0
	}
	return math.Exp(-4 * t * t)
}

// render colors text between the secondary text color and the error color
func (a *alertState) render(key, text string, now time.Time) string {
	w := a.weight(key, now)
	if w == 0 {
		return text
	}
	if !a.trueColor {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)).Bold(true).Render(text)
	}
	// #B1B8C7 -> #EF4444
	r := int(177*(1-w) + 239*w)
	g := int(184*(1-w) + 68*w)
	b := int(199*(1-w) + 68*w)
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fmt.Sprintf("#%02X%02X%02X", r, g, b))).Bold(true).Render(text)
}
