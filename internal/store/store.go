// Package store is the single source of truth for exam sessions: a whole
// table of session records kept in a shared blob backend. Writes are
// compare-and-swap on the table revision, so concurrent writers from
// other processes are detected and retried instead of silently lost.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/models"
)

// Recovery decides what ReadAll does with a table it cannot decode
type Recovery string

const (
	// RecoverQuarantine copies the bad bytes aside and starts empty
	RecoverQuarantine Recovery = "quarantine"
	// RecoverDiscard starts empty and keeps nothing
	RecoverDiscard Recovery = "discard"
	// RecoverStrict surfaces ErrCorrupt to the caller
	RecoverStrict Recovery = "strict"
)

const (
	DefaultTableKey   = "sessions"
	DefaultMaxRetries = 8

	progressPrefix   = "progress/"
	quarantinePrefix = "sessions.corrupt."
)

// Options configures a Store
type Options struct {
	TableKey   string
	Recovery   Recovery
	MaxRetries int
	Logger     *slog.Logger
	Bus        *bus.Bus
}

// Store wraps a Backend with whole-table session semantics
type Store struct {
	backend    Backend
	tableKey   string
	recovery   Recovery
	maxRetries int
	logger     *slog.Logger
	bus        *bus.Bus
}

// New creates a Store over backend
func New(backend Backend, opts Options) *Store {
	s := &Store{
		backend:    backend,
		tableKey:   opts.TableKey,
		recovery:   opts.Recovery,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		bus:        opts.Bus,
	}
	if s.tableKey == "" {
		s.tableKey = DefaultTableKey
	}
	if s.recovery == "" {
		s.recovery = RecoverQuarantine
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "store")
	return s
}

// Bus returns the event bus the store publishes on (may be nil)
func (s *Store) Bus() *bus.Bus {
	return s.bus
}

// ReadAll reads the whole table
func (s *Store) ReadAll(ctx context.Context) (*Table, error) {
	data, rev, err := s.backend.Load(ctx, s.tableKey)
	if err != nil {
		return nil, fmt.Errorf("load sessions table: %w", err)
	}

	sessions, err := decodeSessions(data)
	if err == nil {
		return &Table{Revision: rev, Sessions: sessions}, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return nil, err
	}

	switch s.recovery {
	case RecoverStrict:
		return nil, err
	case RecoverQuarantine:
		qkey := fmt.Sprintf("%sr%d", quarantinePrefix, rev)
		if _, qerr := s.backend.Save(ctx, qkey, data, 0); qerr != nil && !errors.Is(qerr, ErrConflict) {
			// Without a safe copy, starting empty would lose the data for good.
			return nil, fmt.Errorf("quarantine corrupt table: %w (decode: %v)", qerr, err)
		}
		s.logger.Error("sessions table unreadable, quarantined and starting empty",
			"error", err, "revision", rev, "quarantine_key", qkey)
	default:
		s.logger.Error("sessions table unreadable, discarding", "error", err, "revision", rev)
	}
	t := NewTable()
	t.Revision = rev
	t.Recovered = true
	return t, nil
}

// WriteAll writes the whole table. The write only succeeds when nobody
// else wrote since t was read; otherwise it returns ErrConflict and the
// caller must re-read. On success t.Revision is advanced.
func (s *Store) WriteAll(ctx context.Context, t *Table) error {
	data, err := encodeSessions(t.Sessions)
	if err != nil {
		return err
	}
	rev, err := s.backend.Save(ctx, s.tableKey, data, t.Revision)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("save sessions table: %w", err)
	}
	t.Revision = rev
	t.Recovered = false
	return nil
}

// Get reads one record
func (s *Store) Get(ctx context.Context, key string) (*models.SessionRecord, error) {
	t, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := t.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Upsert applies fn to the record for key and writes the table back.
// fn receives a copy of the current record, or nil when there is none,
// and returns the record to store. Returning ErrSkip aborts the write
// and Upsert returns the current record unchanged.
func (s *Store) Upsert(ctx context.Context, key string, fn func(cur *models.SessionRecord) (*models.SessionRecord, error)) (*models.SessionRecord, error) {
	var out *models.SessionRecord
	err := s.mutate(ctx, func(t *Table) ([]change, error) {
		prev, _ := t.Get(key)
		next, err := fn(prev.Clone())
		if errors.Is(err, ErrSkip) {
			out = prev
			return nil, ErrSkip
		}
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("upsert %q: mutator returned no record", key)
		}
		next.StudentKey = key
		t.Sessions[key] = next
		out = next.Clone()
		return []change{{key: key, topic: changeTopic(prev, next)}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update mutates an existing record in place. It never creates one and
// returns ErrNotFound when key is absent.
func (s *Store) Update(ctx context.Context, key string, fn func(rec *models.SessionRecord) error) (*models.SessionRecord, error) {
	return s.Upsert(ctx, key, func(cur *models.SessionRecord) (*models.SessionRecord, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		if err := fn(cur); err != nil {
			return nil, err
		}
		return cur, nil
	})
}

// DeleteWhere removes every record matching pred and returns the removed
// records. pred is evaluated against the freshly read table on every
// attempt, so a record that changed concurrently is judged on its
// latest state.
func (s *Store) DeleteWhere(ctx context.Context, pred func(rec *models.SessionRecord) bool) ([]*models.SessionRecord, error) {
	var removed []*models.SessionRecord
	err := s.mutate(ctx, func(t *Table) ([]change, error) {
		removed = removed[:0]
		var changes []change
		for key, rec := range t.Sessions {
			if !pred(rec.Clone()) {
				continue
			}
			removed = append(removed, rec.Clone())
			delete(t.Sessions, key)
			changes = append(changes, change{key: key, topic: bus.TopicSessionDeleted})
		}
		return changes, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

type change struct {
	key   string
	topic string
}

func changeTopic(prev, next *models.SessionRecord) string {
	switch {
	case prev == nil || (!prev.IsActive && next.IsActive):
		return bus.TopicSessionStarted
	case prev.IsActive && !next.IsActive:
		return bus.TopicSessionEnded
	default:
		return bus.TopicSessionUpdated
	}
}

// mutate runs a read-modify-write cycle, retrying on ErrConflict
func (s *Store) mutate(ctx context.Context, fn func(t *Table) ([]change, error)) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		t, err := s.ReadAll(ctx)
		if err != nil {
			return err
		}
		changes, err := fn(t)
		if errors.Is(err, ErrSkip) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		err = s.WriteAll(ctx, t)
		if errors.Is(err, ErrConflict) {
			s.logger.Debug("write conflict, retrying", "attempt", attempt+1, "revision", t.Revision)
			if err := backoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		for _, c := range changes {
			s.bus.Publish(c.topic, bus.SessionEvent{StudentKey: c.key, Revision: t.Revision})
		}
		return nil
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrConflict, s.maxRetries)
}

func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt+1)*time.Millisecond + time.Duration(rand.Int64N(int64(2*time.Millisecond)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LoadProgress returns the in-progress marker for key, or nil when none
func (s *Store) LoadProgress(ctx context.Context, key string) (*models.ExamProgress, error) {
	data, _, err := s.backend.Load(ctx, progressPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var p models.ExamProgress
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("dropping unreadable progress marker", "student_key", key, "error", err)
		return nil, nil
	}
	return &p, nil
}

// SaveProgress writes the in-progress marker for p.StudentKey
func (s *Store) SaveProgress(ctx context.Context, p models.ExamProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	key := progressPrefix + p.StudentKey
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		_, rev, err := s.backend.Load(ctx, key)
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}
		_, err = s.backend.Save(ctx, key, data, rev)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("save progress: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: progress for %q", ErrConflict, p.StudentKey)
}

// ClearProgress removes the in-progress marker for key
func (s *Store) ClearProgress(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, progressPrefix+key); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

// HasProgress reports whether key has an in-progress marker
func (s *Store) HasProgress(ctx context.Context, key string) (bool, error) {
	data, _, err := s.backend.Load(ctx, progressPrefix+key)
	if err != nil {
		return false, fmt.Errorf("load progress: %w", err)
	}
	return len(data) > 0, nil
}

// QuarantinedKeys lists copies of tables that failed to decode
func (s *Store) QuarantinedKeys(ctx context.Context) ([]string, error) {
	return s.backend.Keys(ctx, quarantinePrefix)
}
