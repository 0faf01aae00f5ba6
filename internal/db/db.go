package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/balkashynov/proctor/internal/models"
)

// DatabaseFile is the SQLite file name inside the proctor home
const DatabaseFile = "proctor.db"

var DB *gorm.DB

// Initialize sets up the shared database connection and runs migrations
func Initialize(homeDir string) error {
	db, err := Open(DatabasePath(homeDir))
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open connects to the SQLite database at path and runs migrations.
// Every process of an exam shares this one file.
func Open(path string) (*gorm.DB, error) {
	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create proctor directory: %w", err)
	}

	// Other processes hold the write lock for short bursts; wait instead of failing
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Quiet by default
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// Run auto-migrations
	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// DatabasePath returns the path to the SQLite database file
func DatabasePath(homeDir string) string {
	return filepath.Join(homeDir, DatabaseFile)
}

// runMigrations creates/updates the database schema
func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Blob{},
		&models.User{},
		&models.Question{},
		&models.Result{},
	)
}

// Close closes the shared database connection
func Close() error {
	if DB != nil {
		return CloseDB(DB)
	}
	return nil
}

// CloseDB closes a connection returned by Open
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
