package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/balkashynov/proctor/internal/bus"
	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/parser"
	"github.com/balkashynov/proctor/internal/participant"
)

const maxNotices = 4

type examKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Prev    key.Binding
	Next    key.Binding
	Choose  key.Binding
	Submit  key.Binding
	Suspend key.Binding
	Quit    key.Binding
}

func (k examKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Choose, k.Prev, k.Next, k.Submit, k.Quit}
}

func (k examKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Suspend}}
}

func newExamKeyMap() examKeyMap {
	return examKeyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "option up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "option down")),
		Prev:    key.NewBinding(key.WithKeys("left", "h", "p"), key.WithHelp("←/p", "prev question")),
		Next:    key.NewBinding(key.WithKeys("right", "l", "n"), key.WithHelp("→/n", "next question")),
		Choose:  key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "choose")),
		Submit:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "submit")),
		Suspend: key.NewBinding(key.WithKeys("ctrl+z"), key.WithHelp("ctrl+z", "suspend (counts as leaving)")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "leave (resume later)")),
	}
}

// ExamModel is the participant's exam screen
type ExamModel struct {
	ctx   context.Context
	agent *participant.Agent
	keys  examKeyMap
	help  help.Model

	width  int
	height int

	questions []models.Question
	answers   map[uint]int
	current   int
	cursor    int
	remaining time.Duration

	notices    []string
	violations int
	threshold  int

	confirmSubmit bool
	ended         *bus.SessionEndedEvent
	err           error
}

// examTickMsg is sent every second to refresh the countdown
type examTickMsg struct{}

// participantMsg carries an event from the participant's bus topics
type participantMsg bus.Event

// actionDoneMsg reports the outcome of a store-backed action
type actionDoneMsg struct{ err error }

// NewExamModel creates the exam screen for a started agent
func NewExamModel(ctx context.Context, agent *participant.Agent) ExamModel {
	m := ExamModel{
		ctx:       ctx,
		agent:     agent,
		keys:      newExamKeyMap(),
		help:      help.New(),
		questions: agent.Questions(),
		answers:   agent.Answers(),
		current:   agent.CurrentQuestion(),
		remaining: agent.Remaining(),
	}
	if rec := agent.Record(); rec != nil {
		m.violations = rec.ViolationCount
	}
	m.cursor = m.selectedOption()
	return m
}

func examTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return examTickMsg{} })
}

func (m ExamModel) Init() tea.Cmd {
	return examTick()
}

func (m ExamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case examTickMsg:
		if m.ended != nil {
			return m, nil
		}
		m.remaining = m.agent.Remaining()
		return m, examTick()

	case tea.BlurMsg:
		return m, m.detectorCmd(func(ctx context.Context) error {
			return m.agent.Detector().FocusChanged(ctx, false)
		})

	case tea.FocusMsg:
		return m, m.detectorCmd(func(ctx context.Context) error {
			return m.agent.Detector().FocusChanged(ctx, true)
		})

	case tea.ResumeMsg:
		return m, m.detectorCmd(func(ctx context.Context) error {
			return m.agent.Detector().VisibilityChanged(ctx, false)
		})

	case participantMsg:
		return m.handleEvent(bus.Event(msg))

	case actionDoneMsg:
		m.answers = m.agent.Answers()
		m.current = m.agent.CurrentQuestion()
		if msg.err != nil && !errors.Is(msg.err, models.ErrSessionEnded) {
			m.err = msg.err
		}
		return m, nil

	case tea.KeyMsg:
		if m.ended != nil {
			return m, tea.Quit
		}
		if m.confirmSubmit {
			return m.handleConfirmKeys(msg)
		}
		return m.handleKeys(msg)
	}
	return m, nil
}

func (m ExamModel) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Suspend):
		hide := m.detectorCmd(func(ctx context.Context) error {
			return m.agent.Detector().VisibilityChanged(ctx, true)
		})
		return m, tea.Sequence(hide, tea.Suspend)

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if q, ok := m.question(); ok && m.cursor < len(q.Options)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Prev):
		return m.moveTo(m.current - 1)

	case key.Matches(msg, m.keys.Next):
		return m.moveTo(m.current + 1)

	case key.Matches(msg, m.keys.Choose):
		q, ok := m.question()
		if !ok {
			return m, nil
		}
		m.answers[q.ID] = m.cursor
		option := m.cursor
		return m, m.actionCmd(func(ctx context.Context) error {
			return m.agent.SelectAnswer(ctx, q.ID, option)
		})

	case key.Matches(msg, m.keys.Submit):
		m.confirmSubmit = true
		return m, nil
	}
	return m, nil
}

func (m ExamModel) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.confirmSubmit = false
	switch msg.String() {
	case "y", "Y", "enter":
		return m, m.actionCmd(func(ctx context.Context) error {
			_, err := m.agent.Submit(ctx)
			return err
		})
	case "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m ExamModel) moveTo(i int) (tea.Model, tea.Cmd) {
	if i < 0 || i >= len(m.questions) {
		return m, nil
	}
	m.current = i
	m.cursor = m.selectedOption()
	return m, m.actionCmd(func(ctx context.Context) error {
		return m.agent.SetCurrentQuestion(ctx, i)
	})
}

func (m ExamModel) handleEvent(ev bus.Event) (tea.Model, tea.Cmd) {
	switch payload := ev.Payload.(type) {
	case bus.ViolationEvent:
		m.violations = payload.ViolationCount
		m.threshold = payload.Threshold
		notice := fmt.Sprintf("%s  %s (%d/%d)", payload.At.Format("15:04:05"), payload.Notice, payload.ViolationCount, payload.Threshold)
		m.notices = append(m.notices, notice)
		if len(m.notices) > maxNotices {
			m.notices = m.notices[len(m.notices)-maxNotices:]
		}
	case bus.SessionEndedEvent:
		m.ended = &payload
		m.remaining = 0
	}
	return m, nil
}

// detectorCmd feeds the integrity detector off the UI goroutine
func (m ExamModel) detectorCmd(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return actionDoneMsg{err: err}
		}
		return nil
	}
}

func (m ExamModel) actionCmd(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{err: fn(ctx)}
	}
}

func (m ExamModel) question() (models.Question, bool) {
	if m.current < 0 || m.current >= len(m.questions) {
		return models.Question{}, false
	}
	return m.questions[m.current], true
}

func (m ExamModel) selectedOption() int {
	q, ok := m.question()
	if !ok {
		return 0
	}
	if opt, ok := m.answers[q.ID]; ok {
		return opt
	}
	return 0
}

// Ended returns the end event once the participant reached Submitted
func (m ExamModel) Ended() *bus.SessionEndedEvent {
	return m.ended
}

func (m ExamModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.ended != nil {
		return m.renderEnded()
	}

	helpBar := lipgloss.NewStyle().Width(m.width).Align(lipgloss.Center).Render(m.help.View(m.keys))
	contentHeight := m.height - lipgloss.Height(helpBar) - 1

	if m.width < 90 {
		return lipgloss.JoinVertical(lipgloss.Left, m.renderQuestionPanel(m.width, contentHeight), helpBar)
	}

	leftWidth := m.width * 60 / 100
	rightWidth := m.width - leftWidth - 2
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderQuestionPanel(leftWidth, contentHeight),
		"  ",
		m.renderStatusPanel(rightWidth, contentHeight),
	)
	return lipgloss.JoinVertical(lipgloss.Left, content, helpBar)
}

func (m ExamModel) renderQuestionPanel(width, height int) string {
	var b strings.Builder

	q, ok := m.question()
	if !ok {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText)).Italic(true).
			Render("This exam has no questions. Press s to submit."))
		return lipgloss.NewStyle().Width(width).Height(height).Padding(1, 2).Render(b.String())
	}

	header := fmt.Sprintf("Question %d of %d  ·  %d mark(s)", m.current+1, len(m.questions), q.Marks)
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentBright)).Bold(true).Render(header))
	b.WriteString("\n\n")

	questionStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorPrimaryText)).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccentMain)).
		Width(width-6).
		Padding(0, 1)
	b.WriteString(questionStyle.Render(q.Text))
	b.WriteString("\n\n")

	chosen, answered := m.answers[q.ID]
	for i, opt := range q.Options {
		marker := "○"
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText))
		if answered && chosen == i {
			marker = "●"
			style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSuccess)).Bold(true)
		}
		line := fmt.Sprintf("%s %c. %s", marker, 'A'+rune(i), opt)
		if i == m.cursor {
			line = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color(ColorAccentBright)).
				Padding(0, 1).
				Render(style.Render(line))
		} else {
			line = "   " + style.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderProgressDots())

	if m.confirmSubmit {
		b.WriteString("\n\n")
		unanswered := len(m.questions) - len(m.answers)
		prompt := "Submit the exam? (y/n)"
		if unanswered > 0 {
			prompt = fmt.Sprintf("%d question(s) unanswered. Submit anyway? (y/n)", unanswered)
		}
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning)).Bold(true).Render(prompt))
	}
	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)).Render("Error: " + m.err.Error()))
	}

	return lipgloss.NewStyle().Width(width).Height(height).Padding(1, 2).Render(b.String())
}

// renderProgressDots shows one dot per question: answered, current or open
func (m ExamModel) renderProgressDots() string {
	dots := make([]string, len(m.questions))
	for i, q := range m.questions {
		color := ColorDisabledText
		if _, ok := m.answers[q.ID]; ok {
			color = ColorSuccess
		}
		dot := "●"
		if i == m.current {
			dot = "◉"
			if color == ColorDisabledText {
				color = ColorAccentBright
			}
		}
		dots[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(dot)
	}
	return strings.Join(dots, " ")
}

func (m ExamModel) renderStatusPanel(width, height int) string {
	var components []string

	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorAccentMain)).
		Bold(true).
		Align(lipgloss.Center).
		Width(width)
	components = append(components, title.Render("TIME REMAINING"))

	clock := renderBigClock(m.remaining)
	components = append(components, lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Render(clock))

	violationColor := ColorSecondaryText
	if m.violations > 0 {
		violationColor = ColorWarning
	}
	limit := ""
	if m.threshold > 0 {
		limit = fmt.Sprintf(" of %d allowed", m.threshold)
	}
	violations := lipgloss.NewStyle().
		Foreground(lipgloss.Color(violationColor)).
		Align(lipgloss.Center).
		Width(width).
		Render(fmt.Sprintf("Violations: %d%s", m.violations, limit))
	components = append(components, violations)

	if len(m.notices) > 0 {
		noticeStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorWarning)).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorWarning)).
			Width(width-4).
			Padding(0, 1)
		components = append(components, noticeStyle.Render(strings.Join(m.notices, "\n")))
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(strings.Join(components, "\n\n"))
}

func (m ExamModel) renderEnded() string {
	var b strings.Builder

	color := ColorSuccess
	if m.ended.Reason != models.EndSubmitted {
		color = ColorError
	}
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).
		Render("Exam ended: " + describeEnd(m.ended.Reason)))
	b.WriteString("\n\n")

	if r := m.ended.Result; r != nil {
		b.WriteString(fmt.Sprintf("Score: %d%%  (%d/%d marks)\n", r.Score, r.ObtainedMarks, r.TotalMarks))
		b.WriteString(fmt.Sprintf("Time taken: %s\n", parser.FormatRemaining(time.Duration(r.DurationSeconds)*time.Second)))
		b.WriteString(fmt.Sprintf("Violations: %d\n", r.ViolationCount))
	} else if m.ended.Err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)).
			Render("Your result could not be saved: " + m.ended.Err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHelpText)).Italic(true).Render("press any key to exit"))

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(color)).
		Padding(1, 3).
		Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func describeEnd(reason models.EndReason) string {
	switch reason {
	case models.EndSubmitted:
		return "submitted"
	case models.EndTimeExpired:
		return "time is up"
	case models.EndViolationLimit:
		return "too many violations"
	case models.EndForceEnded:
		return "ended by the invigilator"
	default:
		return string(reason)
	}
}
