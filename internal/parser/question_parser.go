package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// ParsedQuestion represents a question parsed from smart syntax
type ParsedQuestion struct {
	Text    string
	Options []string
	Correct int // index into Options, -1 when none is marked
	Marks   int
	Errors  []string
}

var (
	optionRegex = regexp.MustCompile(`\[([^\]]*)\]`)
	marksRegex  = regexp.MustCompile(`(?:^|\s)\+(\S+)`)
)

// ParseQuestion extracts options and marks from a question line
// Syntax: "Capital of France? [Paris*] [Rome] [Berlin] +2"
// The option ending in * is the correct one.
func ParseQuestion(input string) ParsedQuestion {
	result := ParsedQuestion{
		Correct: -1,
		Marks:   1,
		Options: []string{},
		Errors:  []string{},
	}

	// Extract options ([option] or [option*])
	for _, match := range optionRegex.FindAllStringSubmatch(input, -1) {
		opt := strings.TrimSpace(match[1])
		if strings.HasSuffix(opt, "*") {
			opt = strings.TrimSpace(strings.TrimSuffix(opt, "*"))
			if result.Correct >= 0 {
				result.Errors = append(result.Errors, "More than one option marked correct: "+opt)
			} else {
				result.Correct = len(result.Options)
			}
		}
		if opt == "" {
			result.Errors = append(result.Errors, "Empty option")
			continue
		}
		result.Options = append(result.Options, opt)
	}
	// Remove from text
	input = optionRegex.ReplaceAllString(input, "")

	// Extract marks (+2)
	if matches := marksRegex.FindStringSubmatch(input); len(matches) > 1 {
		marks, err := strconv.Atoi(matches[1])
		if err != nil || marks < 1 || marks > 100 {
			result.Errors = append(result.Errors, "Invalid marks '"+matches[1]+"'. Use a number between 1 and 100")
		} else {
			result.Marks = marks
		}
		// Remove from text
		input = marksRegex.ReplaceAllString(input, " ")
	}

	if len(result.Options) < 2 {
		result.Errors = append(result.Errors, "A question needs at least 2 options")
	}
	if result.Correct < 0 {
		result.Errors = append(result.Errors, "Mark the correct option with *, e.g. [Paris*]")
	}

	// Clean up the text (remove extra spaces)
	result.Text = strings.Join(strings.Fields(input), " ")
	if result.Text == "" {
		result.Errors = append(result.Errors, "Question text is empty")
	}

	return result
}
