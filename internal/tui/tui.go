package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/monitor"
	"github.com/balkashynov/proctor/internal/participant"
)

// RunExamTUI runs the exam screen until the student leaves or the exam
// ends. It returns the end event, or nil when the student left early and
// the session stays resumable.
func RunExamTUI(ctx context.Context, agent *participant.Agent, b *bus.Bus) (*bus.SessionEndedEvent, error) {
	model := NewExamModel(ctx, agent)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))

	sub := b.Subscribe("participant.")
	defer b.Unsubscribe(sub)
	go func() {
		for ev := range sub.Ch() {
			p.Send(participantMsg(ev))
		}
	}()

	finalModel, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if m, ok := finalModel.(ExamModel); ok {
		return m.Ended(), nil
	}
	return nil, nil
}

// RunMonitorTUI runs the live monitor until the invigilator quits. The
// aggregator must be running (Aggregator.Run) for the list to update.
func RunMonitorTUI(ctx context.Context, agg *monitor.Aggregator) error {
	updates, cancel := agg.Subscribe()
	defer cancel()

	model := NewMonitorModel(ctx, agg, updates)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
