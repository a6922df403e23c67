// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and forwards key actions to the player
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control carries user actions from the TUI to the player
type Control struct {
	Volume  chan int
	Running chan bool
	Quit    chan struct{}
}

// NewControl creates a control handler
func NewControl() *Control {
	return &Control{
		Volume:  make(chan int, 10),
		Running: make(chan bool, 10),
		Quit:    make(chan struct{}, 1),
	}
}

// Sends never block the UI; a full channel drops the action.
func (c *Control) setVolume(v int) {
	if c == nil {
		return
	}
	select {
	case c.Volume <- v:
	default:
	}
}

func (c *Control) setRunning(run bool) {
	if c == nil {
		return
	}
	select {
	case c.Running <- run:
	default:
	}
}

func (c *Control) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a TUI model
func NewModel(control *Control, running bool, volume int) Model {
	return Model{
		state:   "Uninitialized",
		running: running,
		volume:  volume,
		control: control,
	}
}

// Run creates the TUI program; the caller runs it
func Run(control *Control, running bool, volume int) *tea.Program {
	return tea.NewProgram(NewModel(control, running, volume), tea.WithAltScreen())
}
