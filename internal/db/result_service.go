package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/balkashynov/proctor/internal/models"
)

// ResultService is the results sink
type ResultService struct {
	db    *gorm.DB
	users *UserService
	now   func() time.Time
}

// NewResultService creates a results sink on db
func NewResultService(db *gorm.DB) *ResultService {
	return &ResultService{db: db, users: NewUserService(db), now: time.Now}
}

// PersistResult stores a graded exam together with the student's profile
func (s *ResultService) PersistResult(ctx context.Context, rec models.ResultRecord) error {
	// Profile fields are denormalized; a user missing from the directory still gets a result
	profile, err := s.users.Profile(ctx, rec.Key)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("failed to look up %s: %w", rec.Key, err)
	}

	answers := rec.Answers
	if answers == nil {
		answers = map[uint]int{}
	}

	result := models.Result{
		StudentKey:      rec.Key,
		StudentName:     profile.DisplayName,
		RollNumber:      profile.RollNumber,
		Branch:          profile.Branch,
		Score:           rec.Score,
		ObtainedMarks:   rec.ObtainedMarks,
		TotalMarks:      rec.TotalMarks,
		Answers:         datatypes.NewJSONType(answers),
		ViolationCount:  rec.ViolationCount,
		DurationSeconds: rec.DurationSeconds,
		EndReason:       rec.EndReason,
		SubmittedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&result).Error; err != nil {
		return fmt.Errorf("failed to save result for %s: %w", rec.Key, err)
	}
	return nil
}

// Results returns results, newest first. An empty key returns everyone's.
func (s *ResultService) Results(ctx context.Context, key string) ([]models.Result, error) {
	var results []models.Result
	q := s.db.WithContext(ctx).Order("submitted_at DESC")
	if key != "" {
		q = q.Where("student_key = ?", key)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// LatestSubmissions returns the most recent submission time per student
func (s *ResultService) LatestSubmissions(ctx context.Context) (map[string]time.Time, error) {
	var results []models.Result
	err := s.db.WithContext(ctx).Select("student_key", "submitted_at").Find(&results).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(results))
	for _, r := range results {
		if r.SubmittedAt.After(out[r.StudentKey]) {
			out[r.StudentKey] = r.SubmittedAt
		}
	}
	return out, nil
}
