// Package retention deletes session records that are no longer needed:
// ended records after a short grace period, and any record, ended or
// not, whose last activity is older than the TTL.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/balkashynov/proctor/internal/capture"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

type Config struct {
	Store  *store.Store
	Blobs  capture.BlobSink
	Logger *slog.Logger
	Now    func() time.Time

	Grace         time.Duration
	TTL           time.Duration
	GraceSchedule string
	AgeSchedule   string
}

// Sweeper runs the grace and age passes
type Sweeper struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("sweeper needs a session store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.GraceSchedule == "" {
		cfg.GraceSchedule = "@every 5s"
	}
	if cfg.AgeSchedule == "" {
		cfg.AgeSchedule = "@every 1h"
	}
	return &Sweeper{cfg: cfg, logger: cfg.Logger.With("component", "retention")}, nil
}

// GracePass deletes ended records whose end is at least Grace old. The
// condition is checked against the table being written, so a record
// restarted in the meantime is kept.
func (s *Sweeper) GracePass(ctx context.Context) ([]string, error) {
	cutoff := s.cfg.Now().Add(-s.cfg.Grace)
	return s.sweep(ctx, "grace", func(rec *models.SessionRecord) bool {
		return !rec.IsActive && rec.EndTime != nil && !rec.EndTime.After(cutoff)
	})
}

// AgePass deletes every record whose last activity is older than TTL
func (s *Sweeper) AgePass(ctx context.Context) ([]string, error) {
	cutoff := s.cfg.Now().Add(-s.cfg.TTL)
	return s.sweep(ctx, "age", func(rec *models.SessionRecord) bool {
		return rec.LastActivity.Before(cutoff)
	})
}

func (s *Sweeper) sweep(ctx context.Context, pass string, pred func(*models.SessionRecord) bool) ([]string, error) {
	removed, err := s.cfg.Store.DeleteWhere(ctx, pred)
	if err != nil {
		return nil, fmt.Errorf("%s pass: %w", pass, err)
	}

	keys := make([]string, 0, len(removed))
	for _, rec := range removed {
		keys = append(keys, rec.StudentKey)
		if err := s.cfg.Store.ClearProgress(ctx, rec.StudentKey); err != nil {
			s.logger.Warn("progress not cleared", "student_key", rec.StudentKey, "error", err)
		}
		s.removeBlobs(ctx, rec)
	}
	if len(keys) > 0 {
		s.logger.Info("sessions deleted", "pass", pass, "count", len(keys), "student_keys", keys)
	}
	return keys, nil
}

func (s *Sweeper) removeBlobs(ctx context.Context, rec *models.SessionRecord) {
	if s.cfg.Blobs == nil {
		return
	}
	for _, ref := range rec.BlobRefs() {
		if err := s.cfg.Blobs.Remove(ctx, ref); err != nil {
			s.logger.Debug("snapshot blob not removed", "blob_ref", ref, "error", err)
		}
	}
}

// Start schedules both passes. Jobs of one pass never overlap.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.GraceSchedule, func() { s.runPass(ctx, "grace", s.GracePass) }); err != nil {
		return fmt.Errorf("grace schedule %q: %w", s.cfg.GraceSchedule, err)
	}
	if _, err := c.AddFunc(s.cfg.AgeSchedule, func() { s.runPass(ctx, "age", s.AgePass) }); err != nil {
		return fmt.Errorf("age schedule %q: %w", s.cfg.AgeSchedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("sweeper started", "grace_schedule", s.cfg.GraceSchedule, "age_schedule", s.cfg.AgeSchedule)
	return nil
}

// Stop stops scheduling and waits for running passes
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) runPass(ctx context.Context, pass string, fn func(context.Context) ([]string, error)) {
	if ctx.Err() != nil {
		return
	}
	if _, err := fn(ctx); err != nil {
		s.logger.Error("retention pass failed", "pass", pass, "error", err)
	}
}
