package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/balkashynov/proctor/internal/models"
	"github.com/balkashynov/proctor/internal/monitor"
	"github.com/balkashynov/proctor/internal/parser"
)

const alertFade = 3 * time.Second

type monitorKeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Warn     key.Binding
	ForceEnd key.Binding
	Refresh  key.Binding
	Quit     key.Binding
}

func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Warn, k.ForceEnd, k.Refresh, k.Quit}
}

func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func newMonitorKeyMap() monitorKeyMap {
	return monitorKeyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Warn:     key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "warn")),
		ForceEnd: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "force end")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// promptKind is the action a text prompt collects input for
type promptKind int

const (
	promptNone promptKind = iota
	promptWarn
	promptForceEnd
)

// MonitorModel is the invigilator's live list of active sessions
type MonitorModel struct {
	ctx     context.Context
	agg     *monitor.Aggregator
	updates <-chan []monitor.ActiveSessionView
	keys    monitorKeyMap
	help    help.Model
	alerts  *alertState

	width  int
	height int

	views    []monitor.ActiveSessionView
	stats    monitor.Stats
	selected string // student key, stable across refreshes

	prompt     promptKind
	promptKey  string
	input      textinput.Model
	status     string
	statusIsOK bool
}

type viewsMsg []monitor.ActiveSessionView

type alertTickMsg struct{}

type monitorActionMsg struct {
	text string
	err  error
}

// NewMonitorModel creates the monitor screen. updates is a subscription
// from agg.Subscribe.
func NewMonitorModel(ctx context.Context, agg *monitor.Aggregator, updates <-chan []monitor.ActiveSessionView) MonitorModel {
	input := textinput.New()
	input.CharLimit = 200
	input.Width = 50

	m := MonitorModel{
		ctx:     ctx,
		agg:     agg,
		updates: updates,
		keys:    newMonitorKeyMap(),
		help:    help.New(),
		alerts:  newAlertState(alertFade),
		input:   input,
	}
	m.applyViews(agg.Views(), time.Now())
	return m
}

func (m MonitorModel) waitForViews() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		views, ok := <-updates
		if !ok {
			return nil
		}
		return viewsMsg(views)
	}
}

func alertTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return alertTickMsg{} })
}

func (m MonitorModel) Init() tea.Cmd {
	return m.waitForViews()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case viewsMsg:
		now := time.Now()
		wasAnimating := m.alerts.active(now)
		m.applyViews(msg, now)
		cmds := []tea.Cmd{m.waitForViews()}
		if !wasAnimating && m.alerts.active(now) {
			cmds = append(cmds, alertTick())
		}
		return m, tea.Batch(cmds...)

	case alertTickMsg:
		if m.alerts.active(time.Now()) {
			return m, alertTick()
		}
		return m, nil

	case monitorActionMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.statusIsOK = false
		} else {
			m.status = msg.text
			m.statusIsOK = true
		}
		return m, nil

	case tea.KeyMsg:
		if m.prompt != promptNone {
			return m.handlePromptKeys(msg)
		}
		return m.handleKeys(msg)
	}
	return m, nil
}

func (m *MonitorModel) applyViews(views []monitor.ActiveSessionView, now time.Time) {
	m.views = views
	m.stats = m.agg.Stats()

	keep := make(map[string]bool, len(views))
	for _, v := range views {
		keep[v.StudentKey] = true
		m.alerts.observe(v.StudentKey, v.ViolationCount, now)
	}
	m.alerts.forget(keep)

	if !keep[m.selected] {
		m.selected = ""
		if len(views) > 0 {
			m.selected = views[0].StudentKey
		}
	}
}

func (m MonitorModel) selectedIndex() int {
	for i, v := range m.views {
		if v.StudentKey == m.selected {
			return i
		}
	}
	return -1
}

func (m MonitorModel) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if i := m.selectedIndex(); i > 0 {
			m.selected = m.views[i-1].StudentKey
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if i := m.selectedIndex(); i >= 0 && i < len(m.views)-1 {
			m.selected = m.views[i+1].StudentKey
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		agg, ctx := m.agg, m.ctx
		return m, func() tea.Msg {
			if _, err := agg.Refresh(ctx); err != nil {
				return monitorActionMsg{err: err}
			}
			return monitorActionMsg{text: "Refreshed"}
		}

	case key.Matches(msg, m.keys.Warn):
		return m.openPrompt(promptWarn, "Warning note (optional)")

	case key.Matches(msg, m.keys.ForceEnd):
		return m.openPrompt(promptForceEnd, "Reason for ending this exam")
	}
	return m, nil
}

func (m MonitorModel) openPrompt(kind promptKind, placeholder string) (tea.Model, tea.Cmd) {
	if m.selected == "" {
		return m, nil
	}
	m.prompt = kind
	m.promptKey = m.selected
	m.input.SetValue("")
	m.input.Placeholder = placeholder
	return m, m.input.Focus()
}

func (m MonitorModel) handlePromptKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.prompt = promptNone
		m.input.Blur()
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		kind, studentKey, text := m.prompt, m.promptKey, strings.TrimSpace(m.input.Value())
		m.prompt = promptNone
		m.input.Blur()
		return m, m.actionCmd(kind, studentKey, text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// actionCmd runs a warn or force-end against the store off the UI goroutine
func (m MonitorModel) actionCmd(kind promptKind, studentKey, text string) tea.Cmd {
	agg, ctx := m.agg, m.ctx
	return func() tea.Msg {
		switch kind {
		case promptWarn:
			rec, err := agg.SendWarning(ctx, studentKey, text)
			if err != nil {
				return monitorActionMsg{err: err}
			}
			return monitorActionMsg{text: fmt.Sprintf("Warned %s (%d violations)", studentKey, rec.ViolationCount)}
		case promptForceEnd:
			if _, err := agg.ForceEnd(ctx, studentKey, text); err != nil {
				return monitorActionMsg{err: err}
			}
			return monitorActionMsg{text: "Ended exam of " + studentKey}
		}
		return nil
	}
}

func (m MonitorModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	leftWidth := m.width * 60 / 100
	rightWidth := m.width - leftWidth - 1

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderSessionTable(leftWidth),
		" ",
		m.renderDetails(rightWidth),
	)

	var bottom string
	switch {
	case m.prompt != promptNone:
		bottom = m.renderPrompt()
	default:
		bottom = m.renderHelpBar()
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderStatsBar(),
		content,
		m.renderStatus(),
		bottom,
	)
}

func (m MonitorModel) renderStatsBar() string {
	s := m.stats
	label := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText))
	value := lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentBright)).Bold(true)
	parts := []string{
		label.Render("Active ") + value.Render(fmt.Sprint(s.Active)),
		label.Render("Warnings ") + value.Render(fmt.Sprint(s.TotalWarnings)),
		label.Render("Students warned ") + value.Render(fmt.Sprint(s.StudentsWarned)),
	}
	if s.Stale > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning)).Render(fmt.Sprintf("%d stale", s.Stale)))
	}
	if !s.RefreshedAt.IsZero() {
		parts = append(parts, label.Render("updated "+s.RefreshedAt.Format("15:04:05")))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(parts, "   "))
}

func (m MonitorModel) renderSessionTable(width int) string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccentBright))
	b.WriteString(headerStyle.Render("Active exams"))
	b.WriteString("\n\n")

	if len(m.views) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText)).Italic(true).Render("No active exams"))
		return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(ColorBorder)).Width(width).Render(b.String())
	}

	availableWidth := width - 4
	rollWidth := 10
	elapsedWidth := 8
	violWidth := 5
	nameWidth := availableWidth - rollWidth - elapsedWidth - violWidth - 6
	if nameWidth < 12 {
		nameWidth = 12
	}

	columns := fmt.Sprintf("%-*s %-*s %-*s %*s", nameWidth, "NAME", rollWidth, "ROLL", elapsedWidth, "ELAPSED", violWidth, "VIOL")
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccentBright)).Padding(0, 1).Render(columns))
	b.WriteString("\n\n")

	now := time.Now()
	for _, v := range m.views {
		name := truncate(v.DisplayName, nameWidth)
		roll := truncate(v.RollNumber, rollWidth)
		elapsed := parser.FormatRemaining(v.Elapsed)
		violations := fmt.Sprintf("%*d", violWidth, v.ViolationCount)

		nameCell := fmt.Sprintf("%-*s", nameWidth, name)
		if v.Stale {
			nameCell = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning)).Render(nameCell)
		}
		violCell := m.alerts.render(v.StudentKey, violations, now)
		if violCell == violations && v.ViolationCount > 0 {
			violCell = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning)).Render(violations)
		}

		row := fmt.Sprintf("%s %-*s %-*s %s", nameCell, rollWidth, roll, elapsedWidth, elapsed, violCell)
		if v.StudentKey == m.selected {
			b.WriteString(lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color(ColorAccentMain)).
				Bold(true).
				Padding(0, 1).
				Render(row))
		} else {
			b.WriteString(" " + row)
		}
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Width(width).
		Render(b.String())
}

func (m MonitorModel) renderDetails(width int) string {
	var b strings.Builder
	border := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(ColorBorder)).Width(width)

	data, ok := m.agg.GetMonitoringData(m.selected)
	if m.selected == "" || !ok {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText)).Italic(true).
			Align(lipgloss.Center).Width(width).Render("Select a session to view details"))
		return border.Render(b.String())
	}
	v := data.View
	now := time.Now()

	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorPrimaryText)).Render(v.DisplayName))
	b.WriteString("\n\n")

	field := func(label, value, color string) {
		b.WriteString(label + ": ")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(value))
		b.WriteString("\n")
	}
	valueColor := func(s string) string {
		if s == monitor.NotAvailable {
			return ColorDisabledText
		}
		return ColorAccentBright
	}
	field("Key", v.StudentKey, ColorSecondaryText)
	field("Roll", v.RollNumber, valueColor(v.RollNumber))
	field("Branch", v.Branch, valueColor(v.Branch))
	field("Started", v.StartTime.Local().Format("15:04:05"), ColorSecondaryText)
	activity := parser.FormatAgo(v.LastActivity, now)
	if v.Stale {
		field("Last activity", activity+" (stale)", ColorWarning)
	} else {
		field("Last activity", activity, ColorSecondaryText)
	}
	field("Snapshots", fmt.Sprint(v.SnapshotCount), ColorSecondaryText)
	if v.LastSnapshot != "" {
		field("Latest frame", v.LastSnapshot, ColorDisabledText)
	}

	b.WriteString("\nHistory:\n")
	history := data.History
	if len(history) > 8 {
		history = history[len(history)-8:]
	}
	if len(history) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDisabledText)).Render("  nothing yet"))
	}
	for i := len(history) - 1; i >= 0; i-- {
		b.WriteString("  " + renderHistoryEntry(history[i]) + "\n")
	}

	return border.Render(b.String())
}

func renderHistoryEntry(e models.SnapshotEntry) string {
	at := e.Timestamp.Local().Format("15:04:05")
	switch e.Kind {
	case models.SnapshotViolation:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError)).Render(at + " violation: " + e.Signal)
	case models.SnapshotWarning:
		text := at + " warning"
		if e.Note != "" {
			text += ": " + e.Note
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWarning)).Render(text)
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSecondaryText)).Render(at + " snapshot")
	}
}

func (m MonitorModel) renderPrompt() string {
	label := "Warn " + m.promptKey
	if m.prompt == promptForceEnd {
		label = "End exam of " + m.promptKey
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorPrimaryText)).
		Background(lipgloss.Color(ColorCardBackground)).
		Padding(0, 1).
		Width(m.width - 2).
		Render(label + ": " + m.input.View() + "  (enter confirm · esc cancel)")
}

func (m MonitorModel) renderStatus() string {
	if m.status == "" {
		return ""
	}
	color := ColorError
	if m.statusIsOK {
		color = ColorSuccess
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Padding(0, 1).Render(m.status)
}

func (m MonitorModel) renderHelpBar() string {
	return lipgloss.NewStyle().
		Align(lipgloss.Center).
		Width(m.width).
		Render(m.help.View(m.keys))
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
