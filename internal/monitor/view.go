package monitor

import (
	"time"

	"github.com/balkashynov/proctor/internal/models"
)

const (
	UnknownStudent = "Unknown Student"
	NotAvailable   = "N/A"
)

// ActiveSessionView is one row of the live monitoring list
type ActiveSessionView struct {
	StudentKey  string `json:"studentKey"`
	DisplayName string `json:"displayName"`
	RollNumber  string `json:"rollNumber"`
	Branch      string `json:"branch"`

	StartTime      time.Time     `json:"startTime"`
	LastActivity   time.Time     `json:"lastActivity"`
	Elapsed        time.Duration `json:"elapsed"`
	ViolationCount int           `json:"violationCount"`
	SnapshotCount  int           `json:"snapshotCount"`
	LastSnapshot   string        `json:"lastSnapshot,omitempty"`

	// Stale is set when the participant stopped sending heartbeats
	Stale bool `json:"stale"`
}

// MonitoringData is the detail view of one session
type MonitoringData struct {
	View    ActiveSessionView      `json:"view"`
	History []models.SnapshotEntry `json:"history"`
	Record  *models.SessionRecord  `json:"record"`
}

// Stats summarizes the live list
type Stats struct {
	Active         int       `json:"active"`
	Stale          int       `json:"stale"`
	TotalWarnings  int       `json:"totalWarnings"`
	StudentsWarned int       `json:"studentsWarned"`
	Revision       int64     `json:"revision"`
	RefreshedAt    time.Time `json:"refreshedAt"`
}

// project builds the view of rec. Names come from the directory when it
// knows the student, else from the copy taken at session start.
func project(rec *models.SessionRecord, profile models.Profile, known bool, now time.Time, staleAfter time.Duration) ActiveSessionView {
	v := ActiveSessionView{
		StudentKey:     rec.StudentKey,
		DisplayName:    rec.DisplayName,
		RollNumber:     rec.RollNumber,
		Branch:         rec.Branch,
		StartTime:      rec.StartTime,
		LastActivity:   rec.LastActivity,
		Elapsed:        rec.Elapsed(now),
		ViolationCount: rec.ViolationCount,
		LastSnapshot:   rec.LastSnapshot,
	}
	if known {
		v.DisplayName = profile.DisplayName
		v.RollNumber = profile.RollNumber
		v.Branch = profile.Branch
	}
	if v.DisplayName == "" {
		v.DisplayName = UnknownStudent
	}
	if v.RollNumber == "" {
		v.RollNumber = NotAvailable
	}
	if v.Branch == "" {
		v.Branch = NotAvailable
	}
	for _, e := range rec.SnapshotHistory {
		if e.Kind == models.SnapshotCapture {
			v.SnapshotCount++
		}
	}
	v.Stale = staleAfter > 0 && now.Sub(rec.LastActivity) > staleAfter
	return v
}
