package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/buckleypaul/cellcycle/internal/cycle"
)

// RunFunc executes a run, delivering its events to notify.
type RunFunc func(ctx context.Context, notify cycle.Notifier) cycle.Result

// Start runs fn in the background and shows its progress until the user
// quits. Quitting before the run ends cancels it; Start always waits for
// the run to return so the output is off before control goes back.
func Start(ctx context.Context, info RunInfo, pause *cycle.PauseSwitch, fn RunFunc) (cycle.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(info, pause, cancel), tea.WithAltScreen())

	done := make(chan cycle.Result, 1)
	go func() {
		res := fn(ctx, func(ev cycle.Event) { p.Send(EventMsg{Event: ev}) })
		done <- res
		p.Send(DoneMsg{Result: res})
	}()

	_, err := p.Run()
	cancel()
	return <-done, err
}
