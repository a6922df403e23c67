// ABOUTME: Bubbletea model for the playback TUI
// ABOUTME: Shows driver state, corrected rate and device occupancy; handles run and volume keys
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	// Driver
	state   string
	format  string
	session string
	err     string

	// Source
	title  string
	artist string
	album  string

	// Correction
	rate      float64
	nominal   int
	direction float64
	occupancy float64 // device buffer fill, 0..1
	buffered  int     // ring bytes

	// Stats
	written   uint64
	underruns uint64
	dropped   uint64

	// Controls
	running bool
	volume  int

	control  *Control
	quitting bool

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	case TickMsg:
		m.applyTick(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping playback...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Phoenix Audio"))
	b.WriteString("\n\n")
	b.WriteString(m.renderState())
	b.WriteString(m.renderSource())
	b.WriteString(m.renderCorrection())
	b.WriteString(m.renderStats())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space:Run/Pause  ↑/↓:Volume  q:Quit"))
	b.WriteString("\n")
	return b.String()
}

func field(name, value string) string {
	return headerStyle.Render(fmt.Sprintf("%-9s", name+":")) + " " + valueStyle.Render(value) + "\n"
}

func (m Model) renderState() string {
	run := "paused"
	if m.running {
		run = "running"
	}

	s := field("State", fmt.Sprintf("%s (%s)", m.state, run))
	if m.format != "" {
		s += field("Format", m.format)
	}
	if m.err != "" {
		s += warnStyle.Render("Error:    "+truncate(m.err, 60)) + "\n"
	}
	return s
}

func (m Model) renderSource() string {
	if m.title == "" {
		return ""
	}
	s := field("Track", truncate(m.title, 42))
	if m.artist != "" {
		s += field("Artist", truncate(m.artist, 42))
	}
	return s
}

func (m Model) renderCorrection() string {
	s := "\n"
	if m.nominal > 0 {
		ppm := (m.rate/float64(m.nominal) - 1) * 1e6
		s += field("Rate", fmt.Sprintf("%.1fHz (%+.0f ppm)", m.rate, ppm))
	} else {
		s += field("Rate", "-")
	}
	s += field("Device", fmt.Sprintf("[%s] %3.0f%%", renderBar(m.occupancy, 20), m.occupancy*100))
	s += field("Volume", fmt.Sprintf("[%s] %d%%", renderBar(float64(m.volume)/100, 10), m.volume))
	return s
}

func (m Model) renderStats() string {
	return field("Stats", fmt.Sprintf("written %s  underruns %d  dropped %s  ring %s",
		formatBytes(m.written), m.underruns, formatBytes(m.dropped), formatBytes(uint64(m.buffered))))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.control.quit()
		return m, tea.Quit
	case " ":
		m.running = !m.running
		m.control.setRunning(m.running)
	case "up":
		if m.volume < 100 {
			m.volume = min(m.volume+5, 100)
			m.control.setVolume(m.volume)
		}
	case "down":
		if m.volume > 0 {
			m.volume = max(m.volume-5, 0)
			m.control.setVolume(m.volume)
		}
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.Format != "" {
		m.format = msg.Format
		m.session = msg.Session
	}
	if msg.Err != nil {
		m.err = *msg.Err
	}
	if msg.Title != "" {
		m.title = msg.Title
		m.artist = msg.Artist
		m.album = msg.Album
	}
	if msg.Running != nil {
		m.running = *msg.Running
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
}

func (m *Model) applyTick(msg TickMsg) {
	m.rate = msg.Rate
	m.nominal = msg.Nominal
	m.direction = msg.Direction
	m.occupancy = msg.Occupancy
	m.buffered = msg.Buffered
	m.written = msg.Written
	m.underruns = msg.Underruns
	m.dropped = msg.Dropped
}

// StatusMsg updates driver and source state. Empty fields are left as is.
type StatusMsg struct {
	State   string
	Format  string
	Session string
	Err     *string // empty string clears
	Title   string
	Artist  string
	Album   string
	Running *bool
	Volume  *int
}

// TickMsg carries the latest correction and totals
type TickMsg struct {
	Rate      float64
	Nominal   int
	Direction float64
	Occupancy float64
	Buffered  int
	Written   uint64
	Underruns uint64
	Dropped   uint64
}

func renderBar(fraction float64, width int) string {
	fraction = max(0, min(fraction, 1))
	filled := int(fraction*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}
