package models

import (
	"errors"
	"time"
)

// ErrSessionEnded is returned when a mutation needs an active session
var ErrSessionEnded = errors.New("session already ended")

// SnapshotKind tells what produced a snapshot history entry
type SnapshotKind string

const (
	SnapshotCapture   SnapshotKind = "capture"   // camera frame
	SnapshotViolation SnapshotKind = "violation" // detected integrity signal
	SnapshotWarning   SnapshotKind = "warning"   // manual warning from a monitor
)

// EndReason records why a session stopped being active
type EndReason string

const (
	EndSubmitted      EndReason = "submitted"
	EndTimeExpired    EndReason = "time_expired"
	EndViolationLimit EndReason = "violation_limit"
	EndForceEnded     EndReason = "force_ended"
)

// SnapshotEntry is one item of a session's snapshot history
type SnapshotEntry struct {
	BlobRef   string       `json:"blobRef,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Kind      SnapshotKind `json:"kind"`
	Signal    string       `json:"signal,omitempty"` // violation type for violation/warning entries
	Note      string       `json:"note,omitempty"`
}

// SessionRecord is the durable per-student state of an exam in progress.
// It lives inside the shared sessions table, keyed by StudentKey.
type SessionRecord struct {
	StudentKey string `json:"studentKey"`

	// Denormalized profile, copied at creation
	DisplayName string `json:"displayName"`
	RollNumber  string `json:"rollNumber"`
	Branch      string `json:"branch"`

	StartTime    time.Time `json:"startTime"`
	LastActivity time.Time `json:"lastActivity"`

	ViolationCount  int             `json:"violationCount"`
	SnapshotHistory []SnapshotEntry `json:"snapshotHistory"`
	LastSnapshot    string          `json:"lastSnapshot,omitempty"`

	IsActive  bool       `json:"isActive"`
	EndTime   *time.Time `json:"endTime"`
	EndReason EndReason  `json:"endReason,omitempty"`
}

// NewSessionRecord builds an active record for the given profile
func NewSessionRecord(p Profile, now time.Time) *SessionRecord {
	return &SessionRecord{
		StudentKey:      p.Key,
		DisplayName:     p.DisplayName,
		RollNumber:      p.RollNumber,
		Branch:          p.Branch,
		StartTime:       now,
		LastActivity:    now,
		SnapshotHistory: []SnapshotEntry{},
		IsActive:        true,
	}
}

// Touch moves LastActivity forward. It never moves it back, so a writer
// with a slightly late clock cannot make a live session look stale.
func (r *SessionRecord) Touch(now time.Time) {
	if now.After(r.LastActivity) {
		r.LastActivity = now
	}
}

// AppendSnapshot appends an entry and evicts the oldest entries once the
// history exceeds capacity. It returns the evicted entries.
func (r *SessionRecord) AppendSnapshot(e SnapshotEntry, capacity int) []SnapshotEntry {
	r.SnapshotHistory = append(r.SnapshotHistory, e)
	if e.Kind == SnapshotCapture && e.BlobRef != "" {
		r.LastSnapshot = e.BlobRef
	}
	r.Touch(e.Timestamp)

	if capacity <= 0 || len(r.SnapshotHistory) <= capacity {
		return nil
	}
	overflow := len(r.SnapshotHistory) - capacity
	evicted := make([]SnapshotEntry, overflow)
	copy(evicted, r.SnapshotHistory[:overflow])
	r.SnapshotHistory = append([]SnapshotEntry(nil), r.SnapshotHistory[overflow:]...)
	return evicted
}

// RecordViolation increments the violation counter and appends a history entry
func (r *SessionRecord) RecordViolation(e SnapshotEntry, capacity int) ([]SnapshotEntry, error) {
	if !r.IsActive {
		return nil, ErrSessionEnded
	}
	r.ViolationCount++
	return r.AppendSnapshot(e, capacity), nil
}

// End soft-deletes the record. Ending an already ended record keeps the
// original EndTime and reason and reports false.
func (r *SessionRecord) End(now time.Time, reason EndReason) bool {
	if !r.IsActive && r.EndTime != nil {
		return false
	}
	r.IsActive = false
	r.EndTime = &now
	r.EndReason = reason
	r.Touch(now)
	return true
}

// Elapsed returns how long the session has been running at now
func (r *SessionRecord) Elapsed(now time.Time) time.Duration {
	end := now
	if r.EndTime != nil {
		end = *r.EndTime
	}
	if end.Before(r.StartTime) {
		return 0
	}
	return end.Sub(r.StartTime)
}

// BlobRefs lists every blob referenced by the history
func (r *SessionRecord) BlobRefs() []string {
	var refs []string
	for _, e := range r.SnapshotHistory {
		if e.BlobRef != "" {
			refs = append(refs, e.BlobRef)
		}
	}
	return refs
}

// Clone returns a deep copy so callers can hold records outside the table
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.SnapshotHistory = append([]SnapshotEntry(nil), r.SnapshotHistory...)
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	return &c
}

// ExamProgress is the in-progress marker of a participant: the answers
// picked so far and the question on screen, used to resume after re-entry.
type ExamProgress struct {
	StudentKey      string       `json:"studentKey"`
	Answers         map[uint]int `json:"answers"` // question ID -> option index
	CurrentQuestion int          `json:"currentQuestion"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}
