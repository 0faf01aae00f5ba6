package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRollNumber(t *testing.T) {
	cases := map[string]string{
		"CS-042": "CS-042",
		"cs-042": "CS-042",
		" ee 7 ": "EE-7",
		"me12":   "ME-12",
		"":       "",
	}
	for in, want := range cases {
		got, err := NormalizeRollNumber(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"042", "CS-", "CS-4a", "C S-4"} {
		_, err := NormalizeRollNumber(bad)
		assert.Error(t, err, bad)
		assert.False(t, IsValidRollNumber(bad), bad)
	}
	assert.True(t, IsValidRollNumber(""))
}

func TestParseExamDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30m":        30 * time.Minute,
		"1h30m":      90 * time.Minute,
		"45 minutes": 45 * time.Minute,
		"2 hours":    2 * time.Hour,
		"90 sec":     90 * time.Second,
		"1800":       30 * time.Minute,
		" 1H ":       time.Hour,
	}
	for in, want := range cases {
		got, err := ParseExamDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "soon", "30", "13h", "-5m"} {
		_, err := ParseExamDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "30:00", FormatRemaining(30*time.Minute))
	assert.Equal(t, "00:09", FormatRemaining(9*time.Second))
	assert.Equal(t, "1:05:03", FormatRemaining(time.Hour+5*time.Minute+3*time.Second))
	assert.Equal(t, "00:00", FormatRemaining(-time.Second))
}

func TestFormatAgo(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "5s ago", FormatAgo(now.Add(-5*time.Second), now))
	assert.Equal(t, "3m ago", FormatAgo(now.Add(-3*time.Minute), now))
	assert.Equal(t, "2h ago", FormatAgo(now.Add(-2*time.Hour), now))
	assert.Equal(t, "just now", FormatAgo(now.Add(time.Second), now))
	assert.Equal(t, "01/03/2026 09:00", FormatAgo(now.Add(-25*time.Hour), now))
}

func TestParseQuestion(t *testing.T) {
	q := ParseQuestion("Capital of France? [Paris*] [Rome] [ Berlin ] +2")
	assert.Empty(t, q.Errors)
	assert.Equal(t, "Capital of France?", q.Text)
	assert.Equal(t, []string{"Paris", "Rome", "Berlin"}, q.Options)
	assert.Equal(t, 0, q.Correct)
	assert.Equal(t, 2, q.Marks)

	q = ParseQuestion("2+2? [3] [4 *]")
	assert.Empty(t, q.Errors)
	assert.Equal(t, "2+2?", q.Text)
	assert.Equal(t, 1, q.Correct)
	assert.Equal(t, 1, q.Marks)
}

func TestParseQuestion_Errors(t *testing.T) {
	cases := map[string]string{
		"no options":   "What? +1",
		"one option":   "What? [yes*]",
		"no correct":   "What? [a] [b]",
		"two correct":  "What? [a*] [b*]",
		"bad marks":    "What? [a*] [b] +lots",
		"empty text":   "[a*] [b]",
		"empty option": "What? [a*] [] [b]",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotEmpty(t, ParseQuestion(input).Errors)
		})
	}
}
