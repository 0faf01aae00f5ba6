package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/parser"
)

// ErrUserNotFound is returned when the directory has no user for a key
var ErrUserNotFound = errors.New("user not found")

// CreateUserRequest holds the data needed to register a user
type CreateUserRequest struct {
	Key        string
	Name       string
	RollNumber string
	Branch     string
	Role       string // "student", "admin" or empty for student
}

// UserService is the user directory and identity provider
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a user directory on db
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Create registers a new user
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	key := strings.ToLower(strings.TrimSpace(req.Key))
	if key == "" {
		return nil, fmt.Errorf("user key is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("user name is required")
	}

	role, err := parseRole(req.Role)
	if err != nil {
		return nil, err
	}

	// Normalize roll numbers like cs-042 -> CS-042, keep anything else as typed
	roll := strings.TrimSpace(req.RollNumber)
	if normalized, err := parser.NormalizeRollNumber(roll); err == nil {
		roll = normalized
	}

	user := models.User{
		Key:        key,
		Name:       name,
		RollNumber: roll,
		Branch:     strings.TrimSpace(req.Branch),
		Role:       role,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", key, err)
	}
	return &user, nil
}

// parseRole converts a role string to a Role
func parseRole(role string) (models.Role, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", "student", "s":
		return models.RoleStudent, nil
	case "admin", "a":
		return models.RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q (use student or admin)", role)
	}
}

// Profile returns the identity of the user with the given key
func (s *UserService) Profile(ctx context.Context, key string) (models.Profile, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(map[string]any{"key": strings.ToLower(strings.TrimSpace(key))}).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Profile{}, fmt.Errorf("%w: %s", ErrUserNotFound, key)
	}
	if err != nil {
		return models.Profile{}, err
	}
	return user.Profile(), nil
}

// List returns every user ordered by role, then roll number
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("role ASC, roll_number ASC, name ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Users returns every known profile keyed by user key
func (s *UserService) Users(ctx context.Context) (map[string]models.Profile, error) {
	users, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Profile, len(users))
	for _, u := range users {
		out[u.Key] = u.Profile()
	}
	return out, nil
}

// Delete removes a user from the directory
func (s *UserService) Delete(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Unscoped().Where(map[string]any{"key": strings.ToLower(strings.TrimSpace(key))}).Delete(&models.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, key)
	}
	return nil
}
