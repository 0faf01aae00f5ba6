package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/monitor"
	"github.com/balkashynov/proctor/internal/participant"
	"github.com/balkashynov/proctor/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestAlertState_RaisesOnIncreaseOnly(t *testing.T) {
	a := newAlertState(time.Second)

	a.observe("s1", 2, t0)
	assert.False(t, a.active(t0), "first sighting is not an alert")

	a.observe("s1", 2, t0.Add(time.Second))
	assert.False(t, a.active(t0.Add(time.Second)))

	a.observe("s1", 3, t0.Add(2*time.Second))
	assert.True(t, a.active(t0.Add(2*time.Second)))
	assert.InDelta(t, 1.0, a.weight("s1", t0.Add(2*time.Second)), 1e-9)
	assert.Less(t, a.weight("s1", t0.Add(2500*time.Millisecond)), 1.0)
	assert.Zero(t, a.weight("s1", t0.Add(3*time.Second)))
	assert.False(t, a.active(t0.Add(3*time.Second)))

	a.forget(map[string]bool{})
	a.observe("s1", 4, t0)
	assert.False(t, a.active(t0), "a forgotten key starts over")
}

func TestRenderBigClock(t *testing.T) {
	clock := renderBigClock(90 * time.Second)
	assert.Equal(t, 5, strings.Count(clock, "\n")+1)

	long := renderBigClock(time.Hour + time.Minute)
	assert.Greater(t, len(long), len(clock), "hours add digits")

	assert.Equal(t, renderBigClock(0), renderBigClock(-time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Asha", truncate("Asha", 10))
	assert.Equal(t, "Asha R...", truncate("Asha Ramanathan", 9))
	assert.Equal(t, "As", truncate("Asha", 2))
}

func TestDescribeEnd(t *testing.T) {
	assert.Equal(t, "too many violations", describeEnd(models.EndViolationLimit))
	assert.Equal(t, "ended by the invigilator", describeEnd(models.EndForceEnded))
	assert.Equal(t, "other", describeEnd(models.EndReason("other")))
}

func newStarted(t *testing.T) (*participant.Agent, *store.Store) {
	t.Helper()
	s := store.New(store.NewMemoryBackend(), store.Options{})
	a, err := participant.New(participant.Config{
		Profile: models.Profile{Key: "s1", DisplayName: "Asha Rao"},
		Store:   s,
		Questions: []models.Question{
			{ID: 1, Text: "Capital of France?", Options: []string{"Paris", "Rome"}, Correct: 0, Marks: 1},
			{ID: 2, Text: "2+2?", Options: []string{"3", "4"}, Correct: 1, Marks: 1},
		},
	})
	require.NoError(t, err)
	_, _, err = a.StartSession(context.Background())
	require.NoError(t, err)
	return a, s
}

// run applies msg and executes the returned command once, feeding its
// message back in
func run(m tea.Model, msg tea.Msg) tea.Model {
	m, cmd := m.Update(msg)
	if cmd == nil {
		return m
	}
	if next := cmd(); next != nil {
		if _, isBatch := next.(tea.BatchMsg); !isBatch {
			m, _ = m.Update(next)
		}
	}
	return m
}

func TestExamModel_AnswerAndNavigate(t *testing.T) {
	agent, _ := newStarted(t)
	var m tea.Model = NewExamModel(context.Background(), agent)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	m = run(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, map[uint]int{1: 0}, agent.Answers())

	m = run(m, tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, 1, agent.CurrentQuestion())
	m = run(m, tea.KeyMsg{Type: tea.KeyDown})
	m = run(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, map[uint]int{1: 0, 2: 1}, agent.Answers())

	assert.Contains(t, m.View(), "2+2?")
}

func TestExamModel_BlurCountsAsViolation(t *testing.T) {
	agent, s := newStarted(t)
	var m tea.Model = NewExamModel(context.Background(), agent)

	m = run(m, tea.BlurMsg{})
	_ = run(m, tea.FocusMsg{})

	rec, err := s.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ViolationCount)
}

func TestExamModel_SubmitNeedsConfirmation(t *testing.T) {
	agent, _ := newStarted(t)
	var m tea.Model = NewExamModel(context.Background(), agent)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})

	m = run(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	assert.Contains(t, m.View(), "unanswered")
	m = run(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	assert.Equal(t, participant.StateInProgress, agent.State())

	m = run(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m = run(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	assert.Equal(t, participant.StateSubmitted, agent.State())

	m, _ = m.Update(participantMsg(bus.Event{
		Topic:   bus.TopicParticipantEnded,
		Payload: bus.SessionEndedEvent{StudentKey: "s1", Reason: models.EndSubmitted, Result: &models.ResultRecord{Score: 0, TotalMarks: 2}},
	}))
	assert.Contains(t, m.View(), "Exam ended: submitted")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMonitorModel_SelectionFollowsKey(t *testing.T) {
	s := store.New(store.NewMemoryBackend(), store.Options{})
	ctx := context.Background()
	for i, key := range []string{"s1", "s2", "s3"} {
		_, err := s.Upsert(ctx, key, func(*models.SessionRecord) (*models.SessionRecord, error) {
			return models.NewSessionRecord(models.Profile{Key: key}, t0.Add(time.Duration(i)*time.Second)), nil
		})
		require.NoError(t, err)
	}
	agg, err := monitor.New(monitor.Config{Store: s})
	require.NoError(t, err)
	views, err := agg.Refresh(ctx)
	require.NoError(t, err)

	m := NewMonitorModel(ctx, agg, nil)
	assert.Equal(t, "s1", m.selected)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(MonitorModel)
	assert.Equal(t, "s2", m.selected)

	// s1 leaves the list: the selection stays on s2
	next, _ = m.Update(viewsMsg(views[1:]))
	m = next.(MonitorModel)
	assert.Equal(t, "s2", m.selected)

	// s2 leaves too: fall back to the first row
	next, _ = m.Update(viewsMsg(views[2:]))
	m = next.(MonitorModel)
	assert.Equal(t, "s3", m.selected)
}

func TestMonitorModel_WarnPrompt(t *testing.T) {
	s := store.New(store.NewMemoryBackend(), store.Options{})
	ctx := context.Background()
	_, err := s.Upsert(ctx, "s1", func(*models.SessionRecord) (*models.SessionRecord, error) {
		return models.NewSessionRecord(models.Profile{Key: "s1"}, t0), nil
	})
	require.NoError(t, err)
	agg, err := monitor.New(monitor.Config{Store: s})
	require.NoError(t, err)
	_, err = agg.Refresh(ctx)
	require.NoError(t, err)

	var m tea.Model = NewMonitorModel(ctx, agg, nil)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("w")})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hi")})
	assert.Contains(t, m.View(), "Warn s1")

	m = run(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, m.View(), "Warned s1 (1 violations)")

	rec, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rec.SnapshotHistory, 1)
	assert.Equal(t, "hi", rec.SnapshotHistory[0].Note)
}
