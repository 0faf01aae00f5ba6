package parser

import (
	"fmt"
	"regexp"
	"strings"
)

var rollRegex = regexp.MustCompile(`^([A-Z]+)[-\s]?(\d+)$`)

// NormalizeRollNumber normalizes roll numbers to uppercase XX-123 format
// Accepts formats like:
// - "CS-042", "cs-042" -> "CS-042"
// - "ee 7", "EE7" -> "EE-7"
// Returns error if format is invalid
func NormalizeRollNumber(roll string) (string, error) {
	if roll == "" {
		return "", nil
	}

	// Remove whitespace and convert to uppercase
	roll = strings.ToUpper(strings.TrimSpace(roll))

	// Validate format: letters, optional dash, numbers
	matches := rollRegex.FindStringSubmatch(roll)
	if len(matches) != 3 {
		return "", fmt.Errorf("invalid roll number format. Use: XX-123 (letters-numbers)")
	}

	return matches[1] + "-" + matches[2], nil
}

// IsValidRollNumber checks if a string matches roll number format
func IsValidRollNumber(roll string) bool {
	if roll == "" {
		return true // Empty is valid (optional field)
	}
	_, err := NormalizeRollNumber(roll)
	return err == nil
}
