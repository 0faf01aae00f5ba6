package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/proctor/internal/models"
)

// CreateQuestionRequest holds the data needed to add a question
type CreateQuestionRequest struct {
	Text    string
	Options []string
	Correct int // index into Options
	Marks   int // 0 means the default of 1
}

// QuestionService is the question bank
type QuestionService struct {
	db *gorm.DB
}

// NewQuestionService creates a question bank on db
func NewQuestionService(db *gorm.DB) *QuestionService {
	return &QuestionService{db: db}
}

// Create adds a question to the bank
func (s *QuestionService) Create(ctx context.Context, req CreateQuestionRequest) (*models.Question, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("question text is required")
	}

	var options []string
	for _, opt := range req.Options {
		opt = strings.TrimSpace(opt)
		if opt != "" {
			options = append(options, opt)
		}
	}
	if len(options) < 2 {
		return nil, fmt.Errorf("a question needs at least 2 options, got %d", len(options))
	}
	if req.Correct < 0 || req.Correct >= len(options) {
		return nil, fmt.Errorf("correct option %d out of range", req.Correct+1)
	}

	marks := req.Marks
	if marks <= 0 {
		marks = 1
	}

	question := models.Question{
		Text:    text,
		Options: options,
		Correct: req.Correct,
		Marks:   marks,
	}
	if err := s.db.WithContext(ctx).Create(&question).Error; err != nil {
		return nil, err
	}
	return &question, nil
}

// Questions returns the whole bank in insertion order
func (s *QuestionService) Questions(ctx context.Context) ([]models.Question, error) {
	var questions []models.Question
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

// Delete removes a question by ID
func (s *QuestionService) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Question{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("question #%d not found", id)
	}
	return nil
}
