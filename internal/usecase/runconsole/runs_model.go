// Package runconsole is a terminal view over the run ledger.
package runconsole

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/errs"
	"kgload/internal/ports"
	"kgload/internal/usecase/pipeline"
)

const maxShownStages = 12

// statusCycle is the order the f key steps through.
var statusCycle = []string{"", ports.RunStatusFailed, ports.RunStatusRunning, ports.RunStatusSucceeded}

// RunReader is the read side of the pipeline service.
type RunReader interface {
	ListRuns(ctx context.Context, filter ports.RunFilter) ([]ports.PipelineRun, error)
	GetRun(ctx context.Context, runID string) (pipeline.RunDetail, error)
}

type Options struct {
	Dataset         string
	Status          string
	Limit           int
	RefreshInterval time.Duration
}

type runsModel struct {
	ctx             context.Context
	reader          RunReader
	dataset         string
	statusFilter    string
	limit           int
	refreshInterval time.Duration
	now             func() time.Time

	runs          []ports.PipelineRun
	selectedIndex int
	detail        pipeline.RunDetail
	hasDetail     bool
	status        string
}

type runsLoadedMsg struct {
	runs []ports.PipelineRun
	err  error
}

type detailLoadedMsg struct {
	runID  string
	detail pipeline.RunDetail
	err    error
}

type tickMsg struct{}

func NewRunsModel(ctx context.Context, reader RunReader, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	limit := options.Limit
	if limit <= 0 {
		limit = 50
	}
	return &runsModel{
		ctx:             logging.WithAttrs(ctx, slog.String("component", "runconsole")),
		reader:          reader,
		dataset:         strings.TrimSpace(options.Dataset),
		statusFilter:    normalizeStatus(options.Status),
		limit:           limit,
		refreshInterval: interval,
		now:             time.Now,
		status:          "loading",
	}
}

func (m *runsModel) Init() tea.Cmd {
	return tea.Batch(m.loadRunsCmd(), m.tickCmd())
}

func (m *runsModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadRunsCmd(), m.tickCmd())
	case runsLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			logging.Warn(m.ctx, "load runs failed", slog.Any("err", errs.Loggable(msg.err)))
			return m, nil
		}
		m.runs = msg.runs
		if len(m.runs) == 0 {
			m.selectedIndex = 0
			m.hasDetail = false
			m.status = "no runs recorded"
			return m, nil
		}
		if m.selectedIndex >= len(m.runs) {
			m.selectedIndex = len(m.runs) - 1
		}
		m.status = fmt.Sprintf("%d runs", len(m.runs))
		return m, m.loadDetailCmd()
	case detailLoadedMsg:
		selected, ok := m.selectedRun()
		if !ok || selected.RunID != msg.runID {
			return m, nil
		}
		if msg.err != nil {
			m.hasDetail = false
			m.status = "detail failed: " + msg.err.Error()
			return m, nil
		}
		m.detail = msg.detail
		m.hasDetail = true
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadRunsCmd()
		case "f":
			m.statusFilter = nextStatus(m.statusFilter)
			m.selectedIndex = 0
			m.hasDetail = false
			return m, m.loadRunsCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadDetailCmd()
			}
		case "down", "j":
			if m.selectedIndex < len(m.runs)-1 {
				m.selectedIndex++
				return m, m.loadDetailCmd()
			}
		}
	}
	return m, nil
}

func (m *runsModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))
	failedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("160"))

	var b strings.Builder
	b.WriteString(titleStyle.Render("kgload runs"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("dataset=%s status=%s limit=%d refresh=%s",
		firstNonEmpty(m.dataset, "all"), firstNonEmpty(m.statusFilter, "all"), m.limit, m.refreshInterval)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Runs"))
	b.WriteString("\n")
	if len(m.runs) == 0 {
		b.WriteString(dimStyle.Render("- no runs"))
		b.WriteString("\n")
	}
	for i, run := range m.runs {
		line := runLine(run, m.now())
		switch {
		case i == m.selectedIndex:
			b.WriteString(selectedStyle.Render("> " + line))
		case run.Status == ports.RunStatusFailed:
			b.WriteString("  " + failedStyle.Render(line))
		default:
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Detail"))
	b.WriteString("\n")
	if !m.hasDetail {
		b.WriteString(dimStyle.Render("- no detail"))
		b.WriteString("\n")
	} else {
		run := m.detail.Run
		b.WriteString(fmt.Sprintf("Run: %s\n", run.RunID))
		b.WriteString(fmt.Sprintf("Manifest: %s\n", firstNonEmpty(run.Manifest, "-")))
		b.WriteString(fmt.Sprintf("Status: %s\n", run.Status))
		if run.ErrorCategory != "" {
			b.WriteString(failedStyle.Render(fmt.Sprintf("Error: [%s/%s] %s", run.ErrorStage, run.ErrorCategory, firstLine(run.ErrorMessage))))
			b.WriteString("\n")
		}
		b.WriteString("\nStages:\n")
		stages := m.detail.Stages
		if len(stages) == 0 {
			b.WriteString("- none\n")
		}
		start := len(stages) - maxShownStages
		if start < 0 {
			start = 0
		}
		for _, s := range stages[start:] {
			b.WriteString("- " + stageLine(s) + "\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Status"))
	b.WriteString("\n")
	b.WriteString("- " + firstNonEmpty(m.status, "ready"))
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("Keys: ↑/k ↓/j move  g refresh  f status filter  q quit"))
	return b.String()
}

func (m *runsModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *runsModel) loadRunsCmd() tea.Cmd {
	filter := ports.RunFilter{Dataset: m.dataset, Status: m.statusFilter, Limit: m.limit}
	return func() tea.Msg {
		runs, err := m.reader.ListRuns(m.ctx, filter)
		return runsLoadedMsg{runs: runs, err: err}
	}
}

func (m *runsModel) loadDetailCmd() tea.Cmd {
	selected, ok := m.selectedRun()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		detail, err := m.reader.GetRun(m.ctx, selected.RunID)
		return detailLoadedMsg{runID: selected.RunID, detail: detail, err: err}
	}
}

func (m *runsModel) selectedRun() (ports.PipelineRun, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.runs) {
		return ports.PipelineRun{}, false
	}
	return m.runs[m.selectedIndex], true
}

func runLine(run ports.PipelineRun, now time.Time) string {
	elapsed := "running"
	if run.FinishedAt != nil {
		elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	}
	line := fmt.Sprintf("%s %-10s %-9s %s %s",
		shortID(run.RunID), run.Dataset, run.Status, humanize.RelTime(run.StartedAt, now, "ago", "from now"), elapsed)
	if run.ErrorCategory != "" {
		line += " " + run.ErrorCategory + "@" + run.ErrorStage
	}
	return line
}

func stageLine(s ports.StageResult) string {
	name := s.Stage
	if s.Name != "" {
		name += "/" + s.Name
	}
	line := fmt.Sprintf("%-22s %-7s in=%s out=%s bad=%d dropped=%d %s",
		name, s.Status, humanize.Comma(s.RowsIn), humanize.Comma(s.RowsOut), s.BadRows, s.Dropped,
		s.Duration.Round(time.Millisecond))
	if s.Detail != "" {
		line += " " + firstLine(s.Detail)
	}
	return line
}

func normalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	for _, s := range statusCycle {
		if s == status {
			return s
		}
	}
	return ""
}

func nextStatus(current string) string {
	for i, s := range statusCycle {
		if s == current {
			return statusCycle[(i+1)%len(statusCycle)]
		}
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
