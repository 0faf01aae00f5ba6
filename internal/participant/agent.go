// Package participant runs one student's side of a proctored exam: it
// owns the session record of that student, keeps it fresh with
// heartbeats and snapshots, records integrity violations, and drives the
// exam from InProgress to Submitted.
package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/capture"
	"github.com/balkashynov/proctor/internal/integrity"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

// ErrNotStarted is returned by operations that need StartSession first
var ErrNotStarted = errors.New("session not started")

// ResultSink persists graded exams
type ResultSink interface {
	PersistResult(ctx context.Context, rec models.ResultRecord) error
}

type Config struct {
	Profile   models.Profile
	Store     *store.Store
	Results   ResultSink
	Questions []models.Question
	Camera    capture.Camera
	Blobs     capture.BlobSink
	Bus       *bus.Bus
	Logger    *slog.Logger
	Now       func() time.Time

	ExamDuration       time.Duration
	HeartbeatInterval  time.Duration
	SnapshotInterval   time.Duration
	SyncInterval       time.Duration
	ViolationThreshold int
	SnapshotCapacity   int
}

const (
	DefaultExamDuration       = 1800 * time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultSnapshotInterval   = 5 * time.Second
	DefaultSyncInterval       = 5 * time.Second
	DefaultViolationThreshold = 3
	DefaultSnapshotCapacity   = 30
)

// Agent is the participant side of one exam session
type Agent struct {
	cfg      Config
	key      string
	logger   *slog.Logger
	detector *integrity.Detector

	state atomic.Int32

	// mu serializes the public methods so the front-end and the timer
	// loop never interleave on local state
	mu            sync.Mutex
	record        *models.SessionRecord // last copy read from or written to the store
	deadline      time.Time
	answers       map[uint]int
	current       int
	lastWarningAt time.Time
	endReason     models.EndReason
	result        *models.ResultRecord
	resultErr     error

	done     chan struct{}
	doneOnce sync.Once
}

// New creates an agent for cfg.Profile
func New(cfg Config) (*Agent, error) {
	if cfg.Profile.Key == "" {
		return nil, fmt.Errorf("participant needs a profile key")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("participant needs a session store")
	}
	if cfg.Camera == nil {
		cfg.Camera = capture.NoCamera{}
	}
	if cfg.Blobs == nil {
		cfg.Blobs = capture.NewMemorySink()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ExamDuration <= 0 {
		cfg.ExamDuration = DefaultExamDuration
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.ViolationThreshold <= 0 {
		cfg.ViolationThreshold = DefaultViolationThreshold
	}
	if cfg.SnapshotCapacity <= 0 {
		cfg.SnapshotCapacity = DefaultSnapshotCapacity
	}

	a := &Agent{
		cfg:     cfg,
		key:     cfg.Profile.Key,
		logger:  cfg.Logger.With("component", "participant", "student_key", cfg.Profile.Key),
		answers: map[uint]int{},
		done:    make(chan struct{}),
	}
	a.detector = integrity.NewDetector(integrity.Config{
		Sink:   a,
		Now:    cfg.Now,
		Logger: cfg.Logger,
	})
	return a, nil
}

// Detector is fed with visibility and focus events by the front-end
func (a *Agent) Detector() *integrity.Detector {
	return a.detector
}

func (a *Agent) State() State {
	return State(a.state.Load())
}

// Done is closed once the session reached Submitted
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// StartSession creates the session record, or resumes the active one
// when the student re-enters. It never creates a second record.
func (a *Agent) StartSession(ctx context.Context) (*models.SessionRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.State() {
	case StateInProgress:
		return a.record.Clone(), true, nil
	case StateTerminating, StateSubmitted:
		return nil, false, models.ErrSessionEnded
	}

	now := a.cfg.Now()
	resumed := false
	rec, err := a.cfg.Store.Upsert(ctx, a.key, func(cur *models.SessionRecord) (*models.SessionRecord, error) {
		resumed = cur != nil && cur.IsActive
		if resumed {
			cur.Touch(now)
			return cur, nil
		}
		// No record, or an ended one from an earlier attempt
		return models.NewSessionRecord(a.cfg.Profile, now), nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("start session: %w", err)
	}

	if resumed {
		progress, err := a.cfg.Store.LoadProgress(ctx, a.key)
		if err != nil {
			a.logger.Warn("progress not restored", "error", err)
		} else if progress != nil {
			for id, opt := range progress.Answers {
				a.answers[id] = opt
			}
			a.current = clampIndex(progress.CurrentQuestion, len(a.cfg.Questions))
		}
	} else if err := a.cfg.Store.ClearProgress(ctx, a.key); err != nil {
		a.logger.Warn("stale progress not cleared", "error", err)
	}

	a.record = rec
	a.deadline = rec.StartTime.Add(a.cfg.ExamDuration)
	a.lastWarningAt = latestWarning(rec)
	a.state.Store(int32(StateInProgress))

	a.logger.Info("session started", "resumed", resumed, "start_time", rec.StartTime, "deadline", a.deadline)
	return rec.Clone(), resumed, nil
}

// Run drives the local timers until the session ends or ctx is done
func (a *Agent) Run(ctx context.Context) error {
	if a.State() == StateIdle {
		return ErrNotStarted
	}

	heartbeat := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	snapshot := time.NewTicker(a.cfg.SnapshotInterval)
	defer snapshot.Stop()
	poll := time.NewTicker(a.cfg.SyncInterval)
	defer poll.Stop()
	countdown := time.NewTicker(time.Second)
	defer countdown.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return nil
		case <-heartbeat.C:
			if err := a.Heartbeat(ctx); err != nil {
				a.logger.Warn("heartbeat failed", "error", err)
			}
		case <-snapshot.C:
			if err := a.CaptureSnapshot(ctx); err != nil {
				a.logger.Warn("snapshot failed", "error", err)
			}
		case <-poll.C:
			if err := a.Sync(ctx); err != nil {
				a.logger.Warn("sync failed", "error", err)
			}
		case <-countdown.C:
			a.Tick(ctx)
		}
	}
}

// Record returns the last known copy of the session record
func (a *Agent) Record() *models.SessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.Clone()
}

// Remaining is the time left on the exam clock
func (a *Agent) Remaining() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() != StateInProgress {
		return 0
	}
	left := a.deadline.Sub(a.cfg.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Result returns the graded result once persisted
func (a *Agent) Result() (*models.ResultRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.resultErr
}

func (a *Agent) EndReason() models.EndReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endReason
}

func latestWarning(rec *models.SessionRecord) time.Time {
	latest := rec.StartTime
	for _, e := range rec.SnapshotHistory {
		if e.Kind == models.SnapshotWarning && e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return latest
}

func clampIndex(i, n int) int {
	if i < 0 || n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
