// Package integrity turns execution-context events of the exam front-end
// into integrity signals that count as violations.
package integrity

import "time"

// Kind names a signal variant; it is stored on violation history entries
type Kind string

const (
	KindContextHidden Kind = "context_hidden"
	KindFocusLost     Kind = "focus_lost"
	KindManualWarning Kind = "manual_warning"
)

// Signal is one integrity event that counts as a violation
type Signal interface {
	Kind() Kind
	At() time.Time
	// Notice is the message shown to the participant
	Notice() string
}

// ContextHidden is raised when the exam stops being visible
type ContextHidden struct {
	Time time.Time
}

func (s ContextHidden) Kind() Kind    { return KindContextHidden }
func (s ContextHidden) At() time.Time { return s.Time }
func (s ContextHidden) Notice() string {
	return "Warning: leaving the exam is not allowed! This incident has been recorded."
}

// FocusLost is raised when the exam window loses input focus
type FocusLost struct {
	Time time.Time
}

func (s FocusLost) Kind() Kind    { return KindFocusLost }
func (s FocusLost) At() time.Time { return s.Time }
func (s FocusLost) Notice() string {
	return "Warning: the exam window lost focus. This incident has been recorded."
}

// ManualWarning is issued by an invigilator from the monitor
type ManualWarning struct {
	Time time.Time
	Note string
}

func (s ManualWarning) Kind() Kind    { return KindManualWarning }
func (s ManualWarning) At() time.Time { return s.Time }
func (s ManualWarning) Notice() string {
	if s.Note != "" {
		return "Warning from the invigilator: " + s.Note
	}
	return "You have received a warning from the invigilator."
}
