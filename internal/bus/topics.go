package bus

import (
	"time"

	"github.com/balkashynov/proctor/internal/models"
)

// Session store topics, published after a successful table write
const (
	TopicSessionStarted = "session.started"
	TopicSessionUpdated = "session.updated"
	TopicSessionEnded   = "session.ended"
	TopicSessionDeleted = "session.deleted"
)

// Participant topics, consumed by the exam front-end
const (
	TopicParticipantViolation = "participant.violation"
	TopicParticipantEnded     = "participant.ended"
)

// SessionEvent describes a change to one record of the sessions table
type SessionEvent struct {
	StudentKey string
	Revision   int64 // table revision that carries the change
}

// ViolationEvent is a user-facing notice about a recorded violation
type ViolationEvent struct {
	StudentKey     string
	Kind           string
	Notice         string
	ViolationCount int
	Threshold      int
	At             time.Time
}

// SessionEndedEvent is published once the participant reaches Submitted
type SessionEndedEvent struct {
	StudentKey string
	Reason     models.EndReason
	Result     *models.ResultRecord // nil when grading was skipped or persisting failed
	Err        error
}
