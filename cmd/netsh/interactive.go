package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/netsock/socket"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	maxScrollback = 200
	refreshEvery  = 250 * time.Millisecond
)

type interactiveModel struct {
	sh       *shell
	input    textinput.Model
	lines    []string
	handles  string
	height   int
	quitting bool
}

type tickMsg time.Time

type socketEventMsg socket.Event

func newInteractiveModel(rt *socket.Runtime) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "help"
	ti.Prompt = promptStyle.Render("netsh> ")
	ti.Width = 60
	ti.Focus()

	m := &interactiveModel{
		sh:     newShell(rt),
		input:  ti,
		height: 24,
	}
	m.handles = m.sh.handles()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "quit" || line == "exit" {
				m.quitting = true
				return m, tea.Quit
			}
			m.run(line)
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height

	case tickMsg:
		m.handles = m.sh.handles()
		return m, tick()

	case socketEventMsg:
		m.push(eventStyle.Render(formatEvent(socket.Event(msg), m.sh)))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) run(line string) {
	if line == "" {
		return
	}
	m.push(promptStyle.Render("> ") + line)
	out, err := m.sh.exec(line)
	if out != "" {
		for _, l := range strings.Split(out, "\n") {
			m.push(resultStyle.Render(l))
		}
	}
	if err != nil {
		m.push(errorStyle.Render(fmt.Sprintf("error: %v", err)))
	}
	m.handles = m.sh.handles()
}

func (m *interactiveModel) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
}

func (m *interactiveModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("netsh"))
	b.WriteString(" socket console\n\n")

	b.WriteString(m.handles)
	b.WriteString("\n\n")

	// Keep the table, the prompt and the help line on screen.
	room := m.height - strings.Count(m.handles, "\n") - 8
	if room < 3 {
		room = 3
	}
	lines := m.lines
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • help commands • esc quit"))
	return b.String()
}

// formatEvent renders a socket event for the scrollback.
func formatEvent(e socket.Event, sh *shell) string {
	who := sh.nameOf(e.Handle)
	if who == "" {
		who = fmt.Sprintf("%s #%d", e.Kind, e.Handle)
	}
	s := fmt.Sprintf("* %s %s: %s", who, e.Type, e.State)
	if e.Err != nil {
		s += " (" + e.Err.Error() + ")"
	}
	return s
}

func runInteractive(rt *socket.Runtime) error {
	p := tea.NewProgram(newInteractiveModel(rt), tea.WithAltScreen())
	unsubscribe := rt.Subscribe(socket.ObserverFunc(func(e socket.Event) {
		if e.Type == socket.EventReadable {
			return
		}
		go p.Send(socketEventMsg(e))
	}))
	defer unsubscribe()

	_, err := p.Run()
	return err
}
