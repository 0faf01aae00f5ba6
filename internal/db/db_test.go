package db

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), DatabaseFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB(gdb) })
	return gdb
}

func TestBlobService_CompareAndSwap(t *testing.T) {
	blobs := NewBlobService(openTestDB(t))
	ctx := context.Background()

	value, rev, err := blobs.Load(ctx, "sessions")
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Equal(t, int64(0), rev)

	rev, err = blobs.Save(ctx, "sessions", []byte("v1"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	// A second creator loses
	_, err = blobs.Save(ctx, "sessions", []byte("other"), 0)
	require.ErrorIs(t, err, store.ErrConflict)

	rev, err = blobs.Save(ctx, "sessions", []byte("v2"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	// Stale revision loses
	_, err = blobs.Save(ctx, "sessions", []byte("stale"), 1)
	require.ErrorIs(t, err, store.ErrConflict)

	value, rev, err = blobs.Load(ctx, "sessions")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(value))
	assert.Equal(t, int64(2), rev)
}

func TestBlobService_DeleteAndKeys(t *testing.T) {
	blobs := NewBlobService(openTestDB(t))
	ctx := context.Background()

	for _, k := range []string{"progress/b", "progress/a", "sessions", "progressive"} {
		_, err := blobs.Save(ctx, k, []byte(k), 0)
		require.NoError(t, err)
	}

	keys, err := blobs.Keys(ctx, "progress/")
	require.NoError(t, err)
	assert.Equal(t, []string{"progress/a", "progress/b"}, keys)

	require.NoError(t, blobs.Delete(ctx, "progress/a"))
	require.NoError(t, blobs.Delete(ctx, "progress/a"))

	keys, err = blobs.Keys(ctx, "progress/")
	require.NoError(t, err)
	assert.Equal(t, []string{"progress/b"}, keys)

	// A deleted key starts over at revision 0
	_, err = blobs.Save(ctx, "progress/a", []byte("again"), 0)
	require.NoError(t, err)
}

func TestBlobService_BacksSessionStore(t *testing.T) {
	s := store.New(NewBlobService(openTestDB(t)), store.Options{MaxRetries: 1000})
	ctx := context.Background()
	_, err := s.Upsert(ctx, "s1", func(*models.SessionRecord) (*models.SessionRecord, error) {
		return models.NewSessionRecord(models.Profile{Key: "s1"}, time.Now()), nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "s1", func(rec *models.SessionRecord) error {
				rec.ViolationCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.ViolationCount)
}

func TestUserService(t *testing.T) {
	users := NewUserService(openTestDB(t))
	ctx := context.Background()

	u, err := users.Create(ctx, CreateUserRequest{Key: " Asha@Uni.edu ", Name: "Asha Rao", RollNumber: "cs-042", Branch: "CSE"})
	require.NoError(t, err)
	assert.Equal(t, "asha@uni.edu", u.Key)
	assert.Equal(t, "CS-042", u.RollNumber)
	assert.Equal(t, models.RoleStudent, u.Role)

	_, err = users.Create(ctx, CreateUserRequest{Key: "asha@uni.edu", Name: "Dup"})
	require.Error(t, err)

	_, err = users.Create(ctx, CreateUserRequest{Key: "x@uni.edu", Name: "X", Role: "teacher"})
	require.Error(t, err)

	p, err := users.Profile(ctx, "ASHA@uni.edu")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", p.DisplayName)
	assert.Equal(t, "CSE", p.Branch)

	_, err = users.Profile(ctx, "nobody@uni.edu")
	require.ErrorIs(t, err, ErrUserNotFound)

	all, err := users.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, users.Delete(ctx, "asha@uni.edu"))
	require.ErrorIs(t, users.Delete(ctx, "asha@uni.edu"), ErrUserNotFound)
}

func TestQuestionService(t *testing.T) {
	questions := NewQuestionService(openTestDB(t))
	ctx := context.Background()

	q, err := questions.Create(ctx, CreateQuestionRequest{
		Text:    "Capital of France?",
		Options: []string{"Paris", " ", "Rome"},
		Correct: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Marks)
	assert.Equal(t, []string{"Paris", "Rome"}, []string(q.Options))

	_, err = questions.Create(ctx, CreateQuestionRequest{Text: "One?", Options: []string{"only"}})
	require.Error(t, err)
	_, err = questions.Create(ctx, CreateQuestionRequest{Text: "Range?", Options: []string{"a", "b"}, Correct: 2})
	require.Error(t, err)

	_, err = questions.Create(ctx, CreateQuestionRequest{Text: "2+2?", Options: []string{"3", "4"}, Correct: 1, Marks: 3})
	require.NoError(t, err)

	all, err := questions.Questions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Capital of France?", all[0].Text)
	assert.Equal(t, 3, all[1].Marks)

	require.NoError(t, questions.Delete(ctx, all[0].ID))
	require.Error(t, questions.Delete(ctx, all[0].ID))
}

func TestResultService(t *testing.T) {
	gdb := openTestDB(t)
	users := NewUserService(gdb)
	results := NewResultService(gdb)
	ctx := context.Background()

	_, err := users.Create(ctx, CreateUserRequest{Key: "s1@uni.edu", Name: "Asha Rao", RollNumber: "CS-042", Branch: "CSE"})
	require.NoError(t, err)

	first := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	results.now = func() time.Time { return first }
	require.NoError(t, results.PersistResult(ctx, models.ResultRecord{
		Key: "s1@uni.edu", Score: 67, ObtainedMarks: 2, TotalMarks: 3,
		Answers: map[uint]int{1: 0, 2: 1}, ViolationCount: 1, DurationSeconds: 600,
		EndReason: models.EndSubmitted,
	}))
	results.now = func() time.Time { return first.Add(time.Hour) }
	require.NoError(t, results.PersistResult(ctx, models.ResultRecord{Key: "ghost@uni.edu", EndReason: models.EndForceEnded}))

	all, err := results.Results(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ghost@uni.edu", all[0].StudentKey)

	mine, err := results.Results(ctx, "s1@uni.edu")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Asha Rao", mine[0].StudentName)
	assert.Equal(t, map[uint]int{1: 0, 2: 1}, mine[0].Answers.Data())
	assert.Equal(t, models.EndSubmitted, mine[0].EndReason)

	latest, err := results.LatestSubmissions(ctx)
	require.NoError(t, err)
	assert.True(t, latest["s1@uni.edu"].Equal(first))
}

func TestWatcher_ReportsDatabaseWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DatabaseFile)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(path, nil)
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	select {
	case _, ok := <-w.Events():
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-w.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
