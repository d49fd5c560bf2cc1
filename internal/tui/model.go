// Package tui is the live terminal monitor shown while a run executes.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/buckleypaul/cellcycle/internal/cycle"
	"github.com/buckleypaul/cellcycle/internal/sample"
	"github.com/buckleypaul/cellcycle/internal/ui"
)

const maxLogLines = 500

// RunInfo describes the run being watched.
type RunInfo struct {
	Kind  cycle.Kind
	Cells string
	Mode  cycle.Mode
}

// EventMsg carries a run event into the program.
type EventMsg struct {
	Event cycle.Event
}

// DoneMsg is sent once the run has returned.
type DoneMsg struct {
	Result cycle.Result
}

type focusArea int

const (
	focusTable focusArea = iota
	focusLog
)

type Model struct {
	info   RunInfo
	pause  *cycle.PauseSwitch
	cancel context.CancelFunc

	progress progress.Model
	spinner  spinner.Model
	table    table.Model
	log      viewport.Model
	lines    []string

	phase    cycle.Phase
	tick     int
	elapsed  time.Duration
	result   *cycle.Result
	stopping bool
	focus    focusArea
	showHelp bool
	width    int
	height   int
}

// New returns a model for info. cancel stops the run; pause may be nil.
func New(info RunInfo, pause *cycle.PauseSwitch, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ui.AccentStyle

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(6),
	)
	styles := table.DefaultStyles()
	styles.Header = ui.TableHeaderStyle
	styles.Selected = ui.TableSelectedStyle
	t.SetStyles(styles)

	return Model{
		info:     info,
		pause:    pause,
		cancel:   cancel,
		progress: progress.New(progress.WithDefaultGradient()),
		spinner:  sp,
		table:    t,
		log:      viewport.New(0, 0),
	}
}

func columns(width int) []table.Column {
	w := (width - 12) / 6
	if w < 9 {
		w = 9
	}
	return []table.Column{
		{Title: "Channel", Width: 10},
		{Title: "Voltage (V)", Width: w},
		{Title: "Current (A)", Width: w},
		{Title: "Min V", Width: w},
		{Title: "Max V", Width: w},
		{Title: "Avg V", Width: w},
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		if m.result != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		return m, nil

	case DoneMsg:
		res := msg.Result
		m.result = &res
		line := fmt.Sprintf("run finished: %s after %d ticks", res.Verdict, res.Ticks)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		if res.ExportPath != "" {
			line += " (exported to " + res.ExportPath + ")"
		}
		m.appendLog(line)
		if m.stopping {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, Keys.Quit):
			if m.result != nil || (m.stopping && msg.String() == "ctrl+c") {
				return m, tea.Quit
			}
			if !m.stopping {
				m.stopping = true
				m.appendLog("stopping run, switching output off")
				if m.cancel != nil {
					m.cancel()
				}
			}
			return m, nil
		case key.Matches(msg, Keys.Pause):
			if m.result == nil && m.pause != nil {
				if m.pause.Toggle() {
					m.appendLog("paused")
				} else {
					m.appendLog("resumed")
				}
			}
			return m, nil
		case key.Matches(msg, Keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, Keys.ToggleFocus):
			if m.focus == focusTable {
				m.focus = focusLog
				m.table.Blur()
			} else {
				m.focus = focusTable
				m.table.Focus()
			}
			return m, nil
		}

		var cmd tea.Cmd
		if m.focus == focusTable {
			m.table, cmd = m.table.Update(msg)
		} else {
			m.log, cmd = m.log.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev cycle.Event) {
	switch ev.Kind {
	case cycle.EventPhase:
		m.phase = ev.Phase
		m.appendLog("phase: " + ev.Phase.String())
	case cycle.EventTick:
		m.tick = ev.Tick
		m.elapsed = ev.Elapsed
		m.table.SetRows(rows(ev.Snapshot))
		switch {
		case ev.Paused:
			m.appendLog(fmt.Sprintf("tick %d: sleeping", ev.Tick))
		case ev.Err != nil:
			m.appendLog(fmt.Sprintf("tick %d: %v", ev.Tick, ev.Err))
		default:
			m.appendLog(fmt.Sprintf("tick %d: %s", ev.Tick, summary(ev.Snapshot)))
		}
	}
}

func (m *Model) appendLog(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
}

func (m *Model) setSize(w, h int) {
	m.width = w
	m.height = h
	inner := w - 6
	if inner < 20 {
		inner = 20
	}
	m.progress.Width = inner
	m.table.SetColumns(columns(inner))
	m.table.SetWidth(inner)

	// run bar, status line, progress, two panel borders, status bar
	avail := h - 10
	if avail < 6 {
		avail = 6
	}
	m.table.SetHeight(avail / 2)
	m.log.Width = inner
	m.log.Height = avail - avail/2
}

// Percent is the completed fraction of a bounded run; unbounded runs
// report 0 until they finish.
func (m Model) Percent() float64 {
	if m.result != nil {
		return 1
	}
	mode := m.info.Mode
	if mode.Unbounded() {
		return 0
	}
	var p float64
	if mode.Bound == cycle.ByCount {
		p = float64(m.tick) / float64(mode.Samples)
	} else {
		p = float64(m.elapsed) / float64(mode.Duration)
	}
	if p > 1 {
		p = 1
	}
	return p
}

func (m Model) state() string {
	if m.result != nil {
		return m.result.Verdict.String()
	}
	if m.pause.Paused() {
		return "paused"
	}
	return m.phase.String()
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	runBar := renderRunBar(m.info, m.state(), m.width)
	statusBar := renderStatusBar([]key.Binding{Keys.Pause, Keys.ToggleFocus, Keys.Help, Keys.Quit}, m.width)
	if m.showHelp {
		return renderLayout(runBar, ui.ContentStyle.Render(renderHelp()), statusBar)
	}

	var b strings.Builder
	if m.result == nil {
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(fmt.Sprintf("%s  tick %d  elapsed %s", m.phase, m.tick, m.elapsed.Round(time.Second)))
	if m.pause.Paused() {
		b.WriteString("  " + ui.WarningStyle.Render("sleeping"))
	}
	if m.stopping && m.result == nil {
		b.WriteString("  " + ui.DimStyle.Render("stopping..."))
	}
	b.WriteString("\n")
	if !m.info.Mode.Unbounded() {
		b.WriteString(m.progress.ViewAs(m.Percent()))
		b.WriteString("\n")
	}
	b.WriteString(ui.Panel("Readings", m.table.View(), m.width-2, 0, m.focus == focusTable))
	b.WriteString("\n")
	b.WriteString(ui.Panel("Log", m.log.View(), m.width-2, 0, m.focus == focusLog))

	if m.result != nil {
		b.WriteString("\n")
		b.WriteString(ui.VerdictBadge(m.result.Verdict.String()))
		if m.result.Err != nil {
			b.WriteString(" " + ui.ErrorStyle.Render(m.result.Err.Error()))
		}
		b.WriteString(ui.DimStyle.Render("  press q to exit"))
	}

	body := ui.ContentStyle.Width(m.width).Render(b.String())
	return renderLayout(runBar, lipgloss.NewStyle().MaxHeight(m.height-2).Render(body), statusBar)
}

func rows(snap []sample.ChannelSnapshot) []table.Row {
	out := make([]table.Row, 0, len(snap))
	for _, ch := range snap {
		v, c := ch.Voltage, ch.Current
		out = append(out, table.Row{
			ch.Channel,
			value(v.Value, v.OK),
			value(c.Value, c.OK),
			value(v.Stats.Min, v.OK),
			value(v.Stats.Max, v.OK),
			value(v.Stats.Avg, v.OK),
		})
	}
	return out
}

func value(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func summary(snap []sample.ChannelSnapshot) string {
	parts := make([]string, 0, len(snap))
	for _, ch := range snap {
		parts = append(parts, fmt.Sprintf("%s=%s V/%s A",
			ch.Channel, value(ch.Voltage.Value, ch.Voltage.OK), value(ch.Current.Value, ch.Current.OK)))
	}
	return strings.Join(parts, " ")
}
