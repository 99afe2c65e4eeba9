// Package monitor renders live batch progress from the recd SSE stream,
// either as a bubbletea dashboard or as plain log lines.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	recprogress "github.com/fyrsmithlabs/recd/internal/progress"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	logTail         = 8
)

// Model is the bubbletea dashboard for one batch, or for every batch when
// batchID is empty.
type Model struct {
	batchID string
	source  EventSource

	last     recprogress.Event
	prev     recprogress.Event
	latency  []float64
	log      []string
	events   int
	done     bool
	err      error
	quitting bool

	bar progress.Model
}

// k9s-style palette
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard reading from source.
func NewModel(batchID string, source EventSource) Model {
	return Model{
		batchID: batchID,
		source:  source,
		latency: make([]float64, 0, historySize),
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

// Last returns the most recent event received.
func (m Model) Last() recprogress.Event { return m.last }

// Err returns the stream error that ended the dashboard, if any.
func (m Model) Err() error { return m.err }

// statusBadge maps the batch status to a colored label.
func statusBadge(s recprogress.Status) string {
	switch s {
	case recprogress.StatusCompleted:
		return healthyStyle.Render("✓ COMPLETED")
	case recprogress.StatusFailed:
		return errorStyle.Render("✗ FAILED")
	case "":
		return dimStyle.Render("… WAITING")
	}
	return warningStyle.Render("● " + strings.ToUpper(string(s)))
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

type eventMsg recprogress.Event
type streamErrMsg struct{ err error }

// Init starts reading the stream.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.source)
}

func waitForEvent(src EventSource) tea.Cmd {
	return func() tea.Msg {
		ev, err := src.Next()
		if err != nil {
			return streamErrMsg{err: err}
		}
		return eventMsg(ev)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if w := msg.Width - 20; w > 10 && w < 80 {
			m.bar.Width = w
		}
		return m, nil

	case eventMsg:
		m = m.apply(recprogress.Event(msg))
		if m.batchID != "" && m.last.Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForEvent(m.source)

	case streamErrMsg:
		m.done = true
		if !errors.Is(msg.err, io.EOF) {
			m.err = msg.err
		}
		return m, tea.Quit
	}

	return m, nil
}

// apply folds one event into the view state. The gap between consecutive
// events of the same batch, ending in processing or compiling, is the
// duration of the unit that just finished.
func (m Model) apply(ev recprogress.Event) Model {
	if m.prev.BatchID == ev.BatchID && m.prev.Status == recprogress.StatusProcessing &&
		(ev.Status == recprogress.StatusProcessing || ev.Status == recprogress.StatusCompiling) {
		if d := ev.Timestamp.Sub(m.prev.Timestamp); d >= 0 {
			m.latency = appendToHistory(m.latency, d.Seconds())
		}
	}

	m.log = append(m.log, FormatEvent(ev))
	if len(m.log) > logTail {
		m.log = m.log[len(m.log)-logTail:]
	}
	m.prev = ev
	m.last = ev
	m.events++
	return m
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := "all batches"
	if m.batchID != "" {
		title = m.batchID
	}
	b.WriteString(headerStyle.Render(" recd batch monitor ") + "  " + dimStyle.Render(title) + "\n")
	b.WriteString(statusBadge(m.last.Status))
	if m.batchID == "" && m.last.BatchID != "" {
		b.WriteString("   " + dimStyle.Render("batch ") + valueStyle.Render(m.last.BatchID))
	}
	b.WriteString("\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Progress") + "\n")
	b.WriteString(labelStyle.Render("  Units: ") +
		valueStyle.Render(FormatCounts(m.last.Completed, m.last.Total, m.last.Percentage)) + "\n")
	b.WriteString("  " + m.bar.ViewAs(float64(m.last.Percentage)/100) + "\n")
	if unit := FormatUnit(m.last); unit != "" {
		b.WriteString(labelStyle.Render("  Now: ") + valueStyle.Render(unit) + "\n")
	}
	if m.last.Artifact != "" {
		b.WriteString(labelStyle.Render("  Artifact: ") + valueStyle.Render(m.last.Artifact) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Unit latency") + "\n")
	latest := "-"
	if n := len(m.latency); n > 0 {
		latest = FormatLatency(m.latency[n-1])
	}
	b.WriteString(labelStyle.Render("  Last: ") + valueStyle.Render(latest) + "\n")
	b.WriteString(createSparkline(m.latency) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Events") + "\n")
	if len(m.log) == 0 {
		b.WriteString(dimStyle.Render("  waiting for events") + "\n")
	}
	for _, line := range m.log {
		b.WriteString(dimStyle.Render("  "+line) + "\n")
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("⚠ "+m.err.Error()) + "\n")
	}

	b.WriteString(footerKeyStyle.Render("[q]") + footerStyle.Render(" quit"))
	return containerStyle.Render(b.String())
}

// Run shows the dashboard until the watched batch ends, the stream closes,
// ctx is cancelled or the user quits. It returns the last event seen.
func Run(ctx context.Context, batchID string, source EventSource, opts ...tea.ProgramOption) (recprogress.Event, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewModel(batchID, source), opts...).Run()
	m, ok := final.(Model)
	if !ok {
		return recprogress.Event{}, err
	}
	if err != nil {
		return m.last, err
	}
	return m.last, m.err
}

// RunPlain writes one line per event to w. With a batchID it stops after
// that batch's terminal event.
func RunPlain(ctx context.Context, batchID string, source EventSource, w io.Writer) (recprogress.Event, error) {
	var last recprogress.Event
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		ev, err := source.Next()
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return last, err
		}
		last = ev

		line := FormatEvent(ev)
		if batchID == "" {
			line = ev.BatchID + " " + line
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return last, err
		}
		if batchID != "" && ev.Status.Terminal() {
			return last, nil
		}
	}
}
