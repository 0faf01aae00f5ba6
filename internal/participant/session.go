package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/capture"
	"github.com/balkashynov/proctor/internal/integrity"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

// Heartbeat refreshes LastActivity so the monitor sees a live session
func (a *Agent) Heartbeat(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireInProgress(); err != nil {
		return err
	}

	now := a.cfg.Now()
	rec, err := a.cfg.Store.Update(ctx, a.key, func(rec *models.SessionRecord) error {
		if !rec.IsActive {
			return models.ErrSessionEnded
		}
		rec.Touch(now)
		return nil
	})
	if err != nil {
		return a.writeFailed(ctx, err)
	}
	a.observe(ctx, rec)
	return nil
}

// CaptureSnapshot stores one camera frame and appends it to the history.
// A missing or failing camera is logged and the tick is skipped.
func (a *Agent) CaptureSnapshot(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireInProgress(); err != nil {
		return err
	}

	frame, err := a.cfg.Camera.Capture(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrNoDevice) {
			a.logger.Debug("snapshot skipped, no camera")
		} else {
			a.logger.Warn("snapshot capture failed", "error", err)
		}
		return nil
	}
	ref, err := a.cfg.Blobs.Put(ctx, a.key, frame)
	if err != nil {
		a.logger.Warn("snapshot not stored", "error", err)
		return nil
	}

	now := a.cfg.Now()
	var evicted []models.SnapshotEntry
	rec, err := a.cfg.Store.Update(ctx, a.key, func(rec *models.SessionRecord) error {
		if !rec.IsActive {
			return models.ErrSessionEnded
		}
		evicted = rec.AppendSnapshot(models.SnapshotEntry{
			BlobRef:   ref,
			Timestamp: now,
			Kind:      models.SnapshotCapture,
		}, a.cfg.SnapshotCapacity)
		return nil
	})
	if err != nil {
		a.removeBlob(ctx, ref)
		return a.writeFailed(ctx, err)
	}
	for _, e := range evicted {
		a.removeBlob(ctx, e.BlobRef)
	}
	a.observe(ctx, rec)
	return nil
}

// RegisterViolation records an integrity signal against the session and
// ends the exam once the violation threshold is reached
func (a *Agent) RegisterViolation(ctx context.Context, sig integrity.Signal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireInProgress(); err != nil {
		return err
	}

	at := sig.At()
	if at.IsZero() {
		at = a.cfg.Now()
	}
	entry := models.SnapshotEntry{
		Timestamp: at,
		Kind:      models.SnapshotViolation,
		Signal:    string(sig.Kind()),
	}
	if w, ok := sig.(integrity.ManualWarning); ok {
		entry.Kind = models.SnapshotWarning
		entry.Note = w.Note
	}

	var evicted []models.SnapshotEntry
	rec, err := a.cfg.Store.Update(ctx, a.key, func(rec *models.SessionRecord) error {
		var err error
		evicted, err = rec.RecordViolation(entry, a.cfg.SnapshotCapacity)
		return err
	})
	if err != nil {
		return a.writeFailed(ctx, err)
	}
	for _, e := range evicted {
		a.removeBlob(ctx, e.BlobRef)
	}
	if entry.Kind == models.SnapshotWarning && at.After(a.lastWarningAt) {
		a.lastWarningAt = at
	}

	a.logger.Info("violation recorded", "kind", sig.Kind(), "violation_count", rec.ViolationCount)
	a.cfg.Bus.Publish(bus.TopicParticipantViolation, bus.ViolationEvent{
		StudentKey:     a.key,
		Kind:           string(sig.Kind()),
		Notice:         sig.Notice(),
		ViolationCount: rec.ViolationCount,
		Threshold:      a.cfg.ViolationThreshold,
		At:             at,
	})
	a.observe(ctx, rec)
	return nil
}

// Sync re-reads the session record to notice changes made by the
// monitor, such as warnings or a forced end, between local writes
func (a *Agent) Sync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireInProgress(); err != nil {
		return err
	}

	rec, err := a.cfg.Store.Get(ctx, a.key)
	if errors.Is(err, store.ErrNotFound) {
		a.remoteEnd(ctx, nil)
		return nil
	}
	if err != nil {
		return err
	}
	a.observe(ctx, rec)
	return nil
}

func (a *Agent) requireInProgress() error {
	switch a.State() {
	case StateIdle:
		return ErrNotStarted
	case StateInProgress:
		return nil
	default:
		return models.ErrSessionEnded
	}
}

// observe reacts to the latest record: it surfaces new invigilator
// warnings, then ends the exam when the record was ended remotely or the
// violation count reached the threshold
func (a *Agent) observe(ctx context.Context, rec *models.SessionRecord) {
	a.record = rec

	for _, e := range rec.SnapshotHistory {
		if e.Kind != models.SnapshotWarning || !e.Timestamp.After(a.lastWarningAt) {
			continue
		}
		a.lastWarningAt = e.Timestamp
		warning := integrity.ManualWarning{Time: e.Timestamp, Note: e.Note}
		a.logger.Info("invigilator warning received", "violation_count", rec.ViolationCount)
		a.cfg.Bus.Publish(bus.TopicParticipantViolation, bus.ViolationEvent{
			StudentKey:     a.key,
			Kind:           string(warning.Kind()),
			Notice:         warning.Notice(),
			ViolationCount: rec.ViolationCount,
			Threshold:      a.cfg.ViolationThreshold,
			At:             e.Timestamp,
		})
	}

	switch {
	case !rec.IsActive:
		a.remoteEnd(ctx, rec)
	case rec.ViolationCount >= a.cfg.ViolationThreshold:
		a.logger.Warn("violation threshold reached", "violation_count", rec.ViolationCount, "threshold", a.cfg.ViolationThreshold)
		a.terminate(ctx, models.EndViolationLimit)
	}
}

// writeFailed handles a failed record update. A record that is gone or
// ended means the monitor ended the session.
func (a *Agent) writeFailed(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.remoteEnd(ctx, nil)
		return models.ErrSessionEnded
	case errors.Is(err, models.ErrSessionEnded):
		if rec, gerr := a.cfg.Store.Get(ctx, a.key); gerr == nil {
			a.remoteEnd(ctx, rec)
		} else {
			a.remoteEnd(ctx, nil)
		}
		return models.ErrSessionEnded
	default:
		return fmt.Errorf("update session: %w", err)
	}
}

func (a *Agent) remoteEnd(ctx context.Context, rec *models.SessionRecord) {
	if rec != nil {
		a.record = rec
	}
	a.logger.Warn("session ended by invigilator")
	a.terminate(ctx, models.EndForceEnded)
}

func (a *Agent) removeBlob(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := a.cfg.Blobs.Remove(ctx, ref); err != nil {
		a.logger.Debug("snapshot blob not removed", "blob_ref", ref, "error", err)
	}
}
