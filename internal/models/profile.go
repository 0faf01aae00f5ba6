package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role is the role of a directory user
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Profile is what the identity provider hands to the proctoring core
type Profile struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	RollNumber  string `json:"rollNumber"`
	Branch      string `json:"branch"`
	Role        Role   `json:"role"`
}

// User represents a directory entry (student or admin)
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Key        string `gorm:"uniqueIndex;not null" json:"key"` // e-mail or other stable identity
	Name       string `gorm:"not null" json:"name"`
	RollNumber string `json:"roll_number"`
	Branch     string `json:"branch"`
	Role       Role   `gorm:"default:student" json:"role"`
}

// Profile projects the user into the identity structure
func (u User) Profile() Profile {
	return Profile{
		Key:         u.Key,
		DisplayName: u.Name,
		RollNumber:  u.RollNumber,
		Branch:      u.Branch,
		Role:        u.Role,
	}
}

// Question represents a multiple-choice question of the exam
type Question struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Text    string                      `gorm:"not null" json:"text"`
	Options datatypes.JSONSlice[string] `json:"options"`
	Correct int                         `json:"correct"` // index into Options
	Marks   int                         `gorm:"default:1" json:"marks"`
}

// ResultRecord is what the participant hands to the results sink
type ResultRecord struct {
	Key             string
	Score           int // percent, rounded
	ObtainedMarks   int
	TotalMarks      int
	Answers         map[uint]int
	ViolationCount  int
	DurationSeconds int
	EndReason       EndReason
}

// Result represents a persisted exam result
type Result struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	StudentKey      string                           `gorm:"index;not null" json:"student_key"`
	StudentName     string                           `json:"student_name"`
	RollNumber      string                           `json:"roll_number"`
	Branch          string                           `json:"branch"`
	Score           int                              `json:"score"`
	ObtainedMarks   int                              `json:"obtained_marks"`
	TotalMarks      int                              `json:"total_marks"`
	Answers         datatypes.JSONType[map[uint]int] `json:"answers"`
	ViolationCount  int                              `json:"violation_count"`
	DurationSeconds int                              `json:"duration_seconds"`
	EndReason       EndReason                        `json:"end_reason"`
	SubmittedAt     time.Time                        `gorm:"index;not null" json:"submitted_at"`
}

// Blob is one row of the generic key/value blob store shared by every
// process. Revision increases by one on every successful write.
type Blob struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     []byte    `json:"value"`
	Revision  int64     `gorm:"not null;default:0" json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}
