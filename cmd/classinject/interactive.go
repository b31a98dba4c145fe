package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/classinject/dispatch"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	skipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const recentUnits = 8

type runModel struct {
	err      error
	summary  *dispatch.Summary
	progress progress.Model
	spinner  spinner.Model
	recent   []string
	total    int
	done     int
	failed   int
	quitting bool
}

type unitMsg dispatch.UnitReport

type finishedMsg struct {
	err error
	sum *dispatch.Summary
}

func newRunModel(total int) *runModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &runModel{
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		spinner:  s,
		total:    total,
	}
}

func (m *runModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case unitMsg:
		m.done++
		if msg.State == dispatch.StateFailed {
			m.failed++
		}
		m.recent = append(m.recent, unitLine(dispatch.UnitReport(msg)))
		if len(m.recent) > recentUnits {
			m.recent = m.recent[len(m.recent)-recentUnits:]
		}

	case finishedMsg:
		m.summary = msg.sum
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func unitLine(r dispatch.UnitReport) string {
	name := filepath.Base(r.Path)
	switch {
	case r.State == dispatch.StateFailed:
		return errorStyle.Render("✗ "+name) + " " + helpStyle.Render(r.Err.Error())
	case r.Result != nil && r.Result.Changed():
		return okStyle.Render(fmt.Sprintf("✓ %s (+%d)", name, r.Result.Inserted))
	case r.Result != nil && r.Result.Skipped > 0:
		return skipStyle.Render("= " + name + " already injected")
	}
	return helpStyle.Render("· " + name)
}

func (m *runModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("classinject"))
	b.WriteString("\n\n")

	percent := 1.0
	if m.total > 0 {
		percent = float64(m.done) / float64(m.total)
	}
	if m.summary == nil && !m.quitting {
		b.WriteString(m.spinner.View())
		b.WriteString(fmt.Sprintf(" %d/%d units", m.done, m.total))
		if m.failed > 0 {
			b.WriteString(errorStyle.Render(fmt.Sprintf(" (%d failed)", m.failed)))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString("\n\n")

	for _, line := range m.recent {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.summary == nil {
		b.WriteString(helpStyle.Render("q stop after the units in flight"))
		b.WriteString("\n")
	}
	return b.String()
}

// runInteractive runs in under a progress display. Quitting cancels the run;
// units already started still finish.
func runInteractive(ctx context.Context, in dispatch.Input, opts dispatch.Options) (*dispatch.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newRunModel(in.Len()))
	opts.OnUnit = func(r dispatch.UnitReport) { p.Send(unitMsg(r)) }

	results := make(chan finishedMsg, 1)
	go func() {
		sum, err := dispatch.Run(ctx, in, opts)
		res := finishedMsg{sum: sum, err: err}
		results <- res
		p.Send(res)
	}()

	_, uiErr := p.Run()
	cancel()
	res := <-results
	if uiErr != nil {
		return res.sum, uiErr
	}
	return res.sum, res.err
}
