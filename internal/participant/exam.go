package participant

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/store"
)

// Questions returns the exam questions in display order
func (a *Agent) Questions() []models.Question {
	return a.cfg.Questions
}

// Answers returns a copy of the selected options by question ID
func (a *Agent) Answers() map[uint]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint]int, len(a.answers))
	for id, opt := range a.answers {
		out[id] = opt
	}
	return out
}

// CurrentQuestion is the index of the question on screen
func (a *Agent) CurrentQuestion() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// SelectAnswer records the chosen option and saves progress for resume
func (a *Agent) SelectAnswer(ctx context.Context, questionID uint, option int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireInProgress(); err != nil {
		return err
	}

	idx := -1
	for i, q := range a.cfg.Questions {
		if q.ID == questionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("question #%d not found", questionID)
	}
	if option < 0 || option >= len(a.cfg.Questions[idx].Options) {
		return fmt.Errorf("option %d out of range for question #%d", option+1, questionID)
	}

	a.answers[questionID] = option
	a.current = idx
	return a.saveProgress(ctx)
}

// SetCurrentQuestion moves to question i and saves progress
func (a *Agent) SetCurrentQuestion(ctx context.Context, i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireInProgress(); err != nil {
		return err
	}
	a.current = clampIndex(i, len(a.cfg.Questions))
	return a.saveProgress(ctx)
}

func (a *Agent) saveProgress(ctx context.Context) error {
	answers := make(map[uint]int, len(a.answers))
	for id, opt := range a.answers {
		answers[id] = opt
	}
	err := a.cfg.Store.SaveProgress(ctx, models.ExamProgress{
		StudentKey:      a.key,
		Answers:         answers,
		CurrentQuestion: a.current,
		UpdatedAt:       a.cfg.Now(),
	})
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Tick checks the exam clock and submits when time is up
func (a *Agent) Tick(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() != StateInProgress {
		return
	}
	if !a.cfg.Now().Before(a.deadline) {
		a.logger.Info("exam time expired")
		a.terminate(ctx, models.EndTimeExpired)
	}
}

// Submit grades and ends the exam on the student's request. Once the
// exam has ended it returns the existing result.
func (a *Agent) Submit(ctx context.Context) (*models.ResultRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() == StateIdle {
		return nil, ErrNotStarted
	}
	a.terminate(ctx, models.EndSubmitted)
	return a.result, a.resultErr
}

// EndSession ends the session without grading. It is idempotent.
func (a *Agent) EndSession(ctx context.Context, reason models.EndReason) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.State() {
	case StateIdle:
		return ErrNotStarted
	case StateInProgress:
		if !a.state.CompareAndSwap(int32(StateInProgress), int32(StateSubmitted)) {
			return nil
		}
		a.endReason = reason
		a.endSession(context.WithoutCancel(ctx), reason)
		a.finish(nil)
	}
	return nil
}

// terminate is the only way into Terminating. A second trigger finds the
// state already moved and does nothing. Callers hold a.mu.
func (a *Agent) terminate(ctx context.Context, reason models.EndReason) bool {
	if !a.state.CompareAndSwap(int32(StateInProgress), int32(StateTerminating)) {
		a.logger.Debug("termination already in progress", "reason", reason)
		return false
	}
	// Finish the result and the end write even if the caller is going away
	ctx = context.WithoutCancel(ctx)
	a.endReason = reason
	a.logger.Info("terminating exam", "reason", reason)

	if rec, err := a.cfg.Store.Get(ctx, a.key); err == nil {
		a.record = rec
	}

	result := a.grade(reason)
	if a.cfg.Results != nil {
		if err := a.cfg.Results.PersistResult(ctx, result); err != nil {
			a.resultErr = fmt.Errorf("persist result: %w", err)
			a.logger.Error("result not persisted", "error", err)
		} else {
			a.result = &result
		}
	} else {
		a.result = &result
	}

	a.endSession(ctx, reason)
	a.state.Store(int32(StateSubmitted))
	a.finish(a.resultErr)
	return true
}

// endSession soft-deletes the record and releases the session's resources
func (a *Agent) endSession(ctx context.Context, reason models.EndReason) {
	now := a.cfg.Now()
	rec, err := a.cfg.Store.Update(ctx, a.key, func(rec *models.SessionRecord) error {
		if !rec.End(now, reason) {
			return store.ErrSkip
		}
		return nil
	})
	switch {
	case err == nil:
		a.record = rec
	case errors.Is(err, store.ErrNotFound):
		// Already swept
	default:
		a.logger.Error("session end not recorded", "error", err)
	}

	if err := a.cfg.Store.ClearProgress(ctx, a.key); err != nil {
		a.logger.Warn("progress not cleared", "error", err)
	}
	a.detector.Disable()
	if err := a.cfg.Camera.Close(); err != nil {
		a.logger.Debug("camera close failed", "error", err)
	}
	a.logger.Info("session ended", "reason", reason)
}

func (a *Agent) finish(err error) {
	a.doneOnce.Do(func() {
		close(a.done)
		a.cfg.Bus.Publish(bus.TopicParticipantEnded, bus.SessionEndedEvent{
			StudentKey: a.key,
			Reason:     a.endReason,
			Result:     a.result,
			Err:        err,
		})
	})
}

func (a *Agent) grade(reason models.EndReason) models.ResultRecord {
	obtained, total, score := Grade(a.cfg.Questions, a.answers)
	answers := make(map[uint]int, len(a.answers))
	for id, opt := range a.answers {
		answers[id] = opt
	}
	res := models.ResultRecord{
		Key:           a.key,
		Score:         score,
		ObtainedMarks: obtained,
		TotalMarks:    total,
		Answers:       answers,
		EndReason:     reason,
	}
	if a.record != nil {
		res.ViolationCount = a.record.ViolationCount
		res.DurationSeconds = int(a.record.Elapsed(a.cfg.Now()).Seconds())
	}
	return res
}

// Grade sums the marks of correctly answered questions. The score is
// the rounded percentage, 0 when there is nothing to score.
func Grade(questions []models.Question, answers map[uint]int) (obtained, total, score int) {
	for _, q := range questions {
		total += q.Marks
		if opt, ok := answers[q.ID]; ok && opt == q.Correct {
			obtained += q.Marks
		}
	}
	if total > 0 {
		score = int(math.Round(float64(obtained) / float64(total) * 100))
	}
	return obtained, total, score
}
