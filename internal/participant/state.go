package participant

// State is the exam state of a participant
type State int32

const (
	StateIdle        State = iota // StartSession not called yet
	StateInProgress               // answering, timers running
	StateTerminating              // grading and persisting the result
	StateSubmitted                // session ended, terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInProgress:
		return "in_progress"
	case StateTerminating:
		return "terminating"
	case StateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}
