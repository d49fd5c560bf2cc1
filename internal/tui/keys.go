package tui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Pause       key.Binding
	ToggleFocus key.Binding
	Help        key.Binding
	Quit        key.Binding
}

var Keys = KeyMap{
	Pause: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause/resume"),
	),
	ToggleFocus: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "toggle focus"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "stop/quit"),
	),
}
