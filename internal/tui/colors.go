package tui

// Color constants for the proctor TUI theme
const (
	// Base Colors
	ColorCardBackground = "#1B1530" // Dark purple
	ColorBorder         = "#3A3F55" // Grey-blue

	// Text Colors
	ColorPrimaryText   = "#E6EAF2" // Questions, names, titles
	ColorSecondaryText = "#B1B8C7" // Labels and secondary details
	ColorDisabledText  = "#6D7383" // Muted text, N/A values
	ColorHelpText      = "240"     // Dark grey for help text

	// Accent Colors (Purple theme)
	ColorAccentMain   = "#7C3AED" // Logo, selection borders
	ColorAccentBright = "#A78BFA" // Clock, highlighted option

	// State Colors
	ColorError   = "#EF4444" // Violations, forced ends, last minute
	ColorSuccess = "#22C55E" // Answered questions, submitted
	ColorWarning = "#F59E0B" // Warnings, stale sessions
)
