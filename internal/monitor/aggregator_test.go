package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/capture"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type directory map[string]models.Profile

func (d directory) Users(context.Context) (map[string]models.Profile, error) { return d, nil }

type submissions struct {
	at  map[string]time.Time
	err error
}

func (s submissions) LatestSubmissions(context.Context) (map[string]time.Time, error) {
	return s.at, s.err
}

type fixture struct {
	store *store.Store
	clock *clock
	agg   *Aggregator
	subs  *submissions
	blobs *capture.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.New(store.NewMemoryBackend(), store.Options{}),
		clock: &clock{now: t0},
		subs:  &submissions{at: map[string]time.Time{}},
		blobs: capture.NewMemorySink(),
	}
	agg, err := New(Config{
		Store: f.store,
		Directory: directory{
			"s1": {Key: "s1", DisplayName: "Asha Rao", RollNumber: "CS-042", Branch: "CSE"},
		},
		Submissions:      f.subs,
		Blobs:            f.blobs,
		Now:              f.clock.Now,
		StaleAfter:       90 * time.Second,
		SnapshotCapacity: 3,
	})
	require.NoError(t, err)
	f.agg = agg
	return f
}

func (f *fixture) start(t *testing.T, key string, at time.Time) {
	t.Helper()
	_, err := f.store.Upsert(context.Background(), key, func(*models.SessionRecord) (*models.SessionRecord, error) {
		return models.NewSessionRecord(models.Profile{Key: key, DisplayName: "copy of " + key}, at), nil
	})
	require.NoError(t, err)
}

func viewKeys(views []ActiveSessionView) []string {
	out := []string{}
	for _, v := range views {
		out = append(out, v.StudentKey)
	}
	return out
}

func TestRefresh_FiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.start(t, "s3", t0.Add(2*time.Second))
	f.start(t, "s2", t0)
	f.start(t, "s1", t0)
	f.start(t, "ended", t0)
	f.start(t, "submitted", t0)
	f.start(t, "retake", t0.Add(time.Hour))
	_, err := f.store.Update(ctx, "ended", func(rec *models.SessionRecord) error {
		rec.End(t0.Add(time.Minute), models.EndSubmitted)
		return nil
	})
	require.NoError(t, err)
	f.subs.at["submitted"] = t0.Add(time.Minute)
	// A result from an earlier attempt does not hide a newer session
	f.subs.at["retake"] = t0.Add(time.Minute)

	f.clock.Advance(time.Hour + time.Minute)
	views, err := f.agg.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3", "retake"}, viewKeys(views))
	assert.Equal(t, views, f.agg.Views())
}

func TestRefresh_Projection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "s1", t0)
	f.start(t, "ghost", t0)
	_, err := f.store.Upsert(ctx, "blank", func(*models.SessionRecord) (*models.SessionRecord, error) {
		return models.NewSessionRecord(models.Profile{Key: "blank"}, t0), nil
	})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	views, err := f.agg.Refresh(ctx)
	require.NoError(t, err)
	byKey := map[string]ActiveSessionView{}
	for _, v := range views {
		byKey[v.StudentKey] = v
	}

	assert.Equal(t, "Asha Rao", byKey["s1"].DisplayName)
	assert.Equal(t, "CS-042", byKey["s1"].RollNumber)
	assert.Equal(t, 2*time.Minute, byKey["s1"].Elapsed)
	assert.True(t, byKey["s1"].Stale)

	assert.Equal(t, "copy of ghost", byKey["ghost"].DisplayName)
	assert.Equal(t, NotAvailable, byKey["ghost"].RollNumber)

	assert.Equal(t, UnknownStudent, byKey["blank"].DisplayName)
	assert.Equal(t, NotAvailable, byKey["blank"].Branch)
}

func TestRefresh_ToleratesMissingResults(t *testing.T) {
	f := newFixture(t)
	f.subs.err = errors.New("results table locked")
	f.start(t, "s1", t0)

	views, err := f.agg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestSendWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "s1", t0)

	f.clock.Advance(time.Minute)
	rec, err := f.agg.SendWarning(ctx, "s1", "eyes on screen")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ViolationCount)
	assert.Equal(t, t0.Add(time.Minute), rec.LastActivity)
	require.Len(t, rec.SnapshotHistory, 1)
	assert.Equal(t, models.SnapshotWarning, rec.SnapshotHistory[0].Kind)
	assert.Equal(t, "eyes on screen", rec.SnapshotHistory[0].Note)

	_, err = f.agg.SendWarning(ctx, "s1", "")
	require.NoError(t, err)
	stats := f.agg.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.TotalWarnings)
	assert.Equal(t, 1, stats.StudentsWarned)

	_, err = f.agg.SendWarning(ctx, "nobody", "")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.agg.ForceEnd(ctx, "s1", "")
	require.NoError(t, err)
	_, err = f.agg.SendWarning(ctx, "s1", "")
	require.ErrorIs(t, err, models.ErrSessionEnded)
}

func TestSendWarning_EvictsBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref, err := f.blobs.Put(ctx, "s1", []byte("frame"))
	require.NoError(t, err)
	_, err = f.store.Upsert(ctx, "s1", func(*models.SessionRecord) (*models.SessionRecord, error) {
		rec := models.NewSessionRecord(models.Profile{Key: "s1"}, t0)
		rec.AppendSnapshot(models.SnapshotEntry{BlobRef: ref, Timestamp: t0, Kind: models.SnapshotCapture}, 3)
		return rec, nil
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.agg.SendWarning(ctx, "s1", "")
		require.NoError(t, err)
	}
	rec, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, rec.SnapshotHistory, 3)
	assert.Empty(t, f.blobs.Refs())
}

func TestForceEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "s1", t0)
	require.NoError(t, f.store.SaveProgress(ctx, models.ExamProgress{StudentKey: "s1", Answers: map[uint]int{1: 1}}))

	f.clock.Advance(time.Minute)
	rec, err := f.agg.ForceEnd(ctx, "s1", "phone on desk")
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	require.NotNil(t, rec.EndTime)
	assert.Equal(t, t0.Add(time.Minute), *rec.EndTime)
	assert.Equal(t, models.EndForceEnded, rec.EndReason)

	has, err := f.store.HasProgress(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, f.agg.Views())

	// Repeating it keeps the first end time
	f.clock.Advance(time.Minute)
	rec, err = f.agg.ForceEnd(ctx, "s1", "again")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), *rec.EndTime)

	_, err = f.agg.ForceEnd(ctx, "nobody", "")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReadsComeFromLastRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref, err := f.blobs.Put(ctx, "s1", []byte("jpeg"))
	require.NoError(t, err)
	_, err = f.store.Upsert(ctx, "s1", func(*models.SessionRecord) (*models.SessionRecord, error) {
		rec := models.NewSessionRecord(models.Profile{Key: "s1"}, t0)
		rec.AppendSnapshot(models.SnapshotEntry{BlobRef: ref, Timestamp: t0, Kind: models.SnapshotCapture}, 3)
		return rec, nil
	})
	require.NoError(t, err)

	_, ok := f.agg.GetSnapshot("s1")
	assert.False(t, ok, "nothing polled yet")
	_, ok = f.agg.GetMonitoringData("s1")
	assert.False(t, ok)

	_, err = f.agg.Refresh(ctx)
	require.NoError(t, err)

	got, ok := f.agg.GetSnapshot("s1")
	require.True(t, ok)
	assert.Equal(t, ref, got)
	data, err := f.agg.SnapshotData(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	md, ok := f.agg.GetMonitoringData("s1")
	require.True(t, ok)
	assert.Equal(t, "Asha Rao", md.View.DisplayName)
	assert.Equal(t, 1, md.View.SnapshotCount)
	assert.Len(t, md.History, 1)

	// A write after the refresh is not visible until the next one
	_, err = f.store.Update(ctx, "s1", func(rec *models.SessionRecord) error {
		rec.ViolationCount = 7
		return nil
	})
	require.NoError(t, err)
	md, _ = f.agg.GetMonitoringData("s1")
	assert.Equal(t, 0, md.Record.ViolationCount)
}

func TestSubscribe_KeepsLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch, cancel := f.agg.Subscribe()

	f.start(t, "s1", t0)
	_, err := f.agg.Refresh(ctx)
	require.NoError(t, err)
	f.start(t, "s2", t0)
	_, err = f.agg.Refresh(ctx)
	require.NoError(t, err)

	views := <-ch
	assert.Equal(t, []string{"s1", "s2"}, viewKeys(views))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestRun_RefreshesOnEvents(t *testing.T) {
	b := bus.New()
	backend := store.NewMemoryBackend()
	s := store.New(backend, store.Options{Bus: b})
	changes := make(chan struct{}, 1)
	agg, err := New(Config{Store: s, Bus: b, Changes: changes, PollInterval: time.Hour})
	require.NoError(t, err)

	ch, stop := agg.Subscribe()
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- agg.Run(ctx) }()

	select {
	case views := <-ch:
		assert.Empty(t, views)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial refresh")
	}

	// In-process writes arrive over the bus
	_, err = s.Upsert(ctx, "s1", func(*models.SessionRecord) (*models.SessionRecord, error) {
		return models.NewSessionRecord(models.Profile{Key: "s1"}, time.Now()), nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(agg.Views()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Another process shares the backend but not the bus
	other := store.New(backend, store.Options{})
	_, err = other.Upsert(ctx, "s2", func(*models.SessionRecord) (*models.SessionRecord, error) {
		return models.NewSessionRecord(models.Profile{Key: "s2"}, time.Now()), nil
	})
	require.NoError(t, err)

	changes <- struct{}{}
	require.Eventually(t, func() bool { return len(agg.Views()) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
}
