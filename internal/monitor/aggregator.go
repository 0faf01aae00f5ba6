// Package monitor is the invigilator's side: it aggregates the shared
// sessions table into a live list of active exams and issues warnings
// and forced ends against individual sessions.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/capture"
	"github.com/balkashynov/proctor/internal/integrity"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

// Directory resolves display profiles
type Directory interface {
	Users(ctx context.Context) (map[string]models.Profile, error)
}

// Submissions reports when each student last submitted a result
type Submissions interface {
	LatestSubmissions(ctx context.Context) (map[string]time.Time, error)
}

type Config struct {
	Store       *store.Store
	Directory   Directory
	Submissions Submissions
	Blobs       capture.BlobSink
	Bus         *bus.Bus
	// Changes signals that another process wrote to the store
	Changes <-chan struct{}
	Logger  *slog.Logger
	Now     func() time.Time

	PollInterval     time.Duration
	StaleAfter       time.Duration
	SnapshotCapacity int
}

// Aggregator keeps the last polled sessions table and its projection
type Aggregator struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	table *store.Table
	views []ActiveSessionView
	stats Stats

	subsMu sync.Mutex
	subs   map[chan []ActiveSessionView]struct{}
}

func New(cfg Config) (*Aggregator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("monitor needs a session store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 90 * time.Second
	}
	if cfg.SnapshotCapacity <= 0 {
		cfg.SnapshotCapacity = 30
	}
	return &Aggregator{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "monitor"),
		table:  store.NewTable(),
		subs:   make(map[chan []ActiveSessionView]struct{}),
	}, nil
}

// Refresh reads the store and rebuilds the active list: records that are
// still active and whose student has no result submitted since the
// session started, ordered by start time, then key
func (a *Aggregator) Refresh(ctx context.Context) ([]ActiveSessionView, error) {
	table, err := a.cfg.Store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	var users map[string]models.Profile
	if a.cfg.Directory != nil {
		if users, err = a.cfg.Directory.Users(ctx); err != nil {
			a.logger.Warn("user directory unavailable", "error", err)
		}
	}
	var submitted map[string]time.Time
	if a.cfg.Submissions != nil {
		if submitted, err = a.cfg.Submissions.LatestSubmissions(ctx); err != nil {
			a.logger.Warn("results unavailable", "error", err)
		}
	}

	now := a.cfg.Now()
	views := []ActiveSessionView{}
	stats := Stats{Revision: table.Revision, RefreshedAt: now}
	for _, rec := range table.Records() {
		if !rec.IsActive {
			continue
		}
		if at, ok := submitted[rec.StudentKey]; ok && !at.Before(rec.StartTime) {
			continue
		}
		profile, known := users[rec.StudentKey]
		v := project(rec, profile, known, now, a.cfg.StaleAfter)
		views = append(views, v)

		stats.Active++
		stats.TotalWarnings += v.ViolationCount
		if v.ViolationCount > 0 {
			stats.StudentsWarned++
		}
		if v.Stale {
			stats.Stale++
		}
	}

	a.mu.Lock()
	a.table = table
	a.views = views
	a.stats = stats
	a.mu.Unlock()

	a.broadcast(views)
	return cloneViews(views), nil
}

// Run refreshes on every poll tick, on in-process session events and on
// store change notifications until ctx is done
func (a *Aggregator) Run(ctx context.Context) error {
	var events <-chan bus.Event
	if a.cfg.Bus != nil {
		sub := a.cfg.Bus.Subscribe("session.")
		defer a.cfg.Bus.Unsubscribe(sub)
		events = sub.Ch()
	}
	changes := a.cfg.Changes

	if _, err := a.Refresh(ctx); err != nil {
		a.logger.Error("refresh failed", "error", err)
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
		}
		if _, err := a.Refresh(ctx); err != nil {
			a.logger.Error("refresh failed", "error", err)
		}
	}
}

// Subscribe streams the list after every refresh. A slow subscriber only
// ever sees the latest list.
func (a *Aggregator) Subscribe() (<-chan []ActiveSessionView, func()) {
	ch := make(chan []ActiveSessionView, 1)
	a.subsMu.Lock()
	a.subs[ch] = struct{}{}
	a.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subsMu.Lock()
			delete(a.subs, ch)
			a.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (a *Aggregator) broadcast(views []ActiveSessionView) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cloneViews(views):
		default:
		}
	}
}

// Views returns the list from the last refresh
func (a *Aggregator) Views() []ActiveSessionView {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneViews(a.views)
}

// Stats summarizes the list from the last refresh
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// SendWarning issues a manual warning: it counts as a violation of the
// session and shows up in its history
func (a *Aggregator) SendWarning(ctx context.Context, key, note string) (*models.SessionRecord, error) {
	key = strings.TrimSpace(key)
	now := a.cfg.Now()
	var evicted []models.SnapshotEntry
	rec, err := a.cfg.Store.Update(ctx, key, func(rec *models.SessionRecord) error {
		var err error
		evicted, err = rec.RecordViolation(models.SnapshotEntry{
			Timestamp: now,
			Kind:      models.SnapshotWarning,
			Signal:    string(integrity.KindManualWarning),
			Note:      strings.TrimSpace(note),
		}, a.cfg.SnapshotCapacity)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("warn %s: %w", key, err)
	}
	a.removeBlobs(ctx, evicted)

	a.logger.Info("warning sent", "student_key", key, "violation_count", rec.ViolationCount)
	a.refreshQuietly(ctx)
	return rec, nil
}

// ForceEnd ends a session from the monitor side and clears the
// participant's progress. Ending an ended session changes nothing.
func (a *Aggregator) ForceEnd(ctx context.Context, key, reason string) (*models.SessionRecord, error) {
	key = strings.TrimSpace(key)
	now := a.cfg.Now()
	ended := false
	rec, err := a.cfg.Store.Update(ctx, key, func(rec *models.SessionRecord) error {
		ended = rec.End(now, models.EndForceEnded)
		if !ended {
			return store.ErrSkip
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("force end %s: %w", key, err)
	}
	if err := a.cfg.Store.ClearProgress(ctx, key); err != nil {
		a.logger.Warn("progress not cleared", "student_key", key, "error", err)
	}

	if ended {
		a.logger.Info("session force-ended", "student_key", key, "reason", reason)
	} else {
		a.logger.Debug("session already ended", "student_key", key)
	}
	a.refreshQuietly(ctx)
	return rec, nil
}

// GetSnapshot returns the latest frame reference of key from the last refresh
func (a *Aggregator) GetSnapshot(key string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.table.Sessions[key]
	if !ok || rec.LastSnapshot == "" {
		return "", false
	}
	return rec.LastSnapshot, true
}

// SnapshotData loads the latest frame of key from the blob sink
func (a *Aggregator) SnapshotData(ctx context.Context, key string) ([]byte, error) {
	ref, ok := a.GetSnapshot(key)
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s: %w", key, store.ErrNotFound)
	}
	if a.cfg.Blobs == nil {
		return nil, fmt.Errorf("no snapshot store configured")
	}
	return a.cfg.Blobs.Get(ctx, ref)
}

// GetMonitoringData returns the details of key from the last refresh
func (a *Aggregator) GetMonitoringData(key string) (MonitoringData, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.table.Sessions[key]
	if !ok {
		return MonitoringData{}, false
	}
	view := project(rec, models.Profile{}, false, a.stats.RefreshedAt, a.cfg.StaleAfter)
	for _, v := range a.views {
		if v.StudentKey == key {
			view = v
			break
		}
	}
	c := rec.Clone()
	return MonitoringData{View: view, History: c.SnapshotHistory, Record: c}, true
}

func (a *Aggregator) refreshQuietly(ctx context.Context) {
	if _, err := a.Refresh(ctx); err != nil {
		a.logger.Warn("refresh after action failed", "error", err)
	}
}

func (a *Aggregator) removeBlobs(ctx context.Context, entries []models.SnapshotEntry) {
	if a.cfg.Blobs == nil {
		return
	}
	for _, e := range entries {
		if e.BlobRef == "" {
			continue
		}
		if err := a.cfg.Blobs.Remove(ctx, e.BlobRef); err != nil {
			a.logger.Debug("snapshot blob not removed", "blob_ref", e.BlobRef, "error", err)
		}
	}
}

func cloneViews(views []ActiveSessionView) []ActiveSessionView {
	return append([]ActiveSessionView{}, views...)
}
