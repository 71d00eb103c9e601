// Package app renders batch progress in the terminal.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/migrobot/internal/migration"
	"github.com/brensch/migrobot/internal/orchestrator"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle = lipgloss.NewStyle().Padding(0, 1)
	headerStyle      = lipgloss.NewStyle().Bold(true)
	jobStateStyle    = map[JobState]lipgloss.Style{
		Queued:            lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
		Running:           lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Succeeded:         lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		BusinessFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		ApplicationFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type jobRow struct {
	customer string
	state    JobState
	stage    string
	start    time.Time
	elapsed  time.Duration
}

// Model follows one batch run. It never starts work itself: events arrive
// on the channel passed to New and the model quits after BatchDoneMsg.
type Model struct {
	migType  string
	spinner  spinner.Model
	progress progress.Model
	events   <-chan tea.Msg
	cancel   func()

	jobs  []*jobRow
	index map[string]*jobRow
	done  int
	total int

	summary  *orchestrator.Summary
	err      error
	quitting bool
	width    int
}

func New(migType string, events <-chan tea.Msg, cancel func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Model{
		migType:  migType,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		events:   events,
		cancel:   cancel,
		index:    make(map[string]*jobRow),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForActivity())
}

func (m *Model) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.events
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.cancel != nil && !m.quitting {
				m.cancel()
			}
			m.quitting = true
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(0, msg.Width-20)
	case EventMsg:
		cmds = append(cmds, m.apply(msg), m.waitForActivity())
	case BatchDoneMsg:
		m.summary = &msg.Summary
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		if p, ok := pm.(progress.Model); ok {
			m.progress = p
		}
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) apply(msg EventMsg) tea.Cmd {
	e := msg.Event
	if e.Total > 0 {
		m.total = e.Total
	}
	switch e.Type {
	case orchestrator.EventJobStarted:
		row := &jobRow{customer: e.Customer, state: Running, start: msg.At}
		m.jobs = append(m.jobs, row)
		m.index[e.Customer] = row
	case orchestrator.EventStage:
		if row, ok := m.index[e.Customer]; ok {
			row.stage = e.Stage
		}
	case orchestrator.EventJobFinished:
		if row, ok := m.index[e.Customer]; ok {
			row.state = stateFor(e.Outcome)
			row.elapsed = msg.At.Sub(row.start)
			if e.Stage != "" {
				row.stage = e.Stage
			}
		}
		m.done = e.Index
	case orchestrator.EventBatchFinished:
		m.done = e.Index
	}
	if m.total == 0 {
		return nil
	}
	return m.progress.SetPercent(float64(m.done) / float64(m.total))
}

func stateFor(o migration.Outcome) JobState {
	switch o {
	case migration.Success:
		return Succeeded
	case migration.BusinessFailure:
		return BusinessFailed
	}
	return ApplicationFailed
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("--- %s migration ---", m.migType)))
	b.WriteString("\n\n")

	if m.summary == nil {
		fmt.Fprintf(&b, "%s Migrating customers ", m.spinner.View())
	}
	b.WriteString(progressBarStyle.Render(m.progress.View()))
	fmt.Fprintf(&b, " (%d/%d)\n\n", m.done, m.total)

	if len(m.jobs) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-30s | %-20s | %-30s | %s", "Customer", "Status", "Stage", "Elapsed")))
		b.WriteString("\n")
		for _, row := range m.jobs {
			elapsed := row.elapsed
			if row.state == Running {
				elapsed = time.Since(row.start)
			}
			status := jobStateStyle[row.state].Render(fmt.Sprintf("%-20s", row.state))
			fmt.Fprintf(&b, "%-30s | %s | %-30s | %s\n", row.customer, status, row.stage, elapsed.Round(time.Second))
		}
	}

	switch {
	case m.err != nil:
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error()))
	case m.summary != nil:
		fmt.Fprintf(&b, "\nSuccess: %d  Failed: %d  Duration: %s", len(m.summary.Succeeded()), len(m.summary.Failed()), m.summary.Duration().Round(time.Second))
	case m.quitting:
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("Cancelling after the current customer..."))
	default:
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("'q' or Ctrl+C to stop after the current customer."))
	}
	b.WriteString("\n")
	return b.String()
}
