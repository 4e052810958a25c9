package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"maxpop/internal/runner"
	"maxpop/internal/storage"
	"maxpop/internal/tui/live"
	"maxpop/internal/tui/styles"
)

type ClearStatusMsg struct{}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(_ time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

type doneMsg struct {
	err error
}

// Handle is the part of a launched run the UI follows.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Samples() []runner.Sample
}

// Controls issues pause and resume signals; *runner.Gate implements it.
type Controls interface {
	Pause(id int) bool
	Resume(id int) bool
	Paused() bool
}

type Options struct {
	ControllerID int
	ExportDir    string
	Cancel       context.CancelFunc
}

type Model struct {
	Live   live.Model
	Run    Handle
	Gate   Controls
	Events <-chan runner.Event
	Opts   Options

	Width     int
	Height    int
	StatusMsg string
	Quitting  bool
}

func NewModel(lm live.Model, run Handle, gate Controls, events <-chan runner.Event, opts Options) Model {
	if opts.ControllerID == 0 {
		opts.ControllerID = runner.DefaultControllerID
	}
	return Model{
		Live:   lm,
		Run:    run,
		Gate:   gate,
		Events: events,
		Opts:   opts,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		live.WaitForEvent(m.Events),
		waitForDone(m.Run),
	)
}

func waitForDone(h Handle) tea.Cmd {
	return func() tea.Msg {
		<-h.Done()
		return doneMsg{err: h.Err()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case live.EventMsg:
		cmds = append(cmds, live.WaitForEvent(m.Events))

	case live.ClosedMsg:
		return m, nil

	case doneMsg:
		m.Live = m.Live.Finish(msg.err)
		if msg.err != nil {
			m.StatusMsg = "Run aborted"
		} else {
			m.StatusMsg = "All rounds finished"
		}
		return m, nil

	case ClearStatusMsg:
		if !m.Live.Done {
			m.StatusMsg = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.Opts.ControllerID
	switch msg.String() {
	case "ctrl+c", "q":
		m.Quitting = true
		if m.Opts.Cancel != nil {
			m.Opts.Cancel()
		}
		return m, tea.Quit

	case "p":
		if m.Live.Done {
			return m, nil
		}
		if m.Gate.Pause(id) {
			m.StatusMsg = "Paused: the next round waits for <r>"
		} else {
			m.StatusMsg = "Already paused"
		}
		return m, clearStatusCmd()

	case "r":
		if m.Gate.Resume(id) {
			m.StatusMsg = "Resumed"
		} else {
			m.StatusMsg = "Not paused"
		}
		return m, clearStatusCmd()

	case "s":
		m.StatusMsg = m.export()
		return m, clearStatusCmd()
	}
	return m, nil
}

func (m Model) export() string {
	samples := m.Run.Samples()
	if len(samples) == 0 {
		return "Nothing to export yet"
	}
	id := m.Live.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	path := filepath.Join(m.Opts.ExportDir, fmt.Sprintf("maxpop-%s.csv", id))
	if err := storage.ExportFile(path, samples); err != nil {
		return "Export failed: " + err.Error()
	}
	return "Saved " + path
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("maxpop"))
	s.WriteString("\n\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n\n")

	keys := []string{
		styles.RenderKey("p", "pause"),
		styles.RenderKey("r", "resume"),
		styles.RenderKey("s", "save csv"),
		styles.RenderKey("q", "quit"),
	}
	footer := strings.Join(keys, "  ")
	if m.StatusMsg != "" {
		footer = lipgloss.JoinHorizontal(lipgloss.Top, footer, "   ", styles.Warn.Render(m.StatusMsg))
	}
	s.WriteString(styles.Footer.Render(footer))
	return s.String()
}

// Start runs the program until the user quits.
func Start(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
