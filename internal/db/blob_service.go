package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

// BlobService is the store.Backend on top of the blobs table
type BlobService struct {
	db *gorm.DB
}

var _ store.Backend = (*BlobService)(nil)

// NewBlobService creates a blob backend on db
func NewBlobService(db *gorm.DB) *BlobService {
	return &BlobService{db: db}
}

// Load returns the value and revision for key, or nil at revision 0
func (s *BlobService) Load(ctx context.Context, key string) ([]byte, int64, error) {
	var blob models.Blob
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load blob %q: %w", key, err)
	}
	return blob.Value, blob.Revision, nil
}

// Save writes value when the stored revision still equals expected
func (s *BlobService) Save(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	now := time.Now()
	tx := s.db.WithContext(ctx)

	if expected == 0 {
		// First write wins; a row that already exists means someone beat us to it
		blob := models.Blob{Key: key, Value: value, Revision: 1, UpdatedAt: now}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&blob)
		if res.Error != nil {
			return 0, fmt.Errorf("failed to create blob %q: %w", key, res.Error)
		}
		if res.RowsAffected == 0 {
			return 0, store.ErrConflict
		}
		return 1, nil
	}

	res := tx.Model(&models.Blob{}).
		Where(map[string]any{"key": key, "revision": expected}).
		Updates(map[string]any{
			"value":      value,
			"revision":   expected + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update blob %q: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, store.ErrConflict
	}
	return expected + 1, nil
}

// Delete removes key; a missing key is fine
func (s *BlobService) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Delete(&models.Blob{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete blob %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys starting with prefix, sorted
func (s *BlobService) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&models.Blob{}).
		Where(clause.Like{Column: clause.Column{Name: "key"}, Value: prefix + "%"}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	// LIKE treats _ and % in the prefix as wildcards
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}
