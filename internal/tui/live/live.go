package live

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"maxpop/internal/runner"
	"maxpop/internal/tui/components"
	"maxpop/internal/tui/styles"
)

// EventMsg wraps a controller event for the bubbletea loop.
type EventMsg runner.Event

// ClosedMsg is sent once the event channel is closed.
type ClosedMsg struct{}

// WaitForEvent blocks on ch until the next event.
func WaitForEvent(ch <-chan runner.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return ClosedMsg{}
		}
		return EventMsg(ev)
	}
}

// Model shows the progress of one run over its ramp plan.
type Model struct {
	RunID   string
	Version uint64
	Plan    []runner.Round

	Current runner.Round
	Phase   runner.Phase
	Samples []runner.Sample
	Err     error
	Done    bool

	Progress    progress.Model
	DrainLine   components.Sparkline
	LatencyLine components.Sparkline

	Width  int
	Height int
}

func NewModel(runID string, version uint64, plan []runner.Round) Model {
	m := Model{
		RunID:       runID,
		Version:     version,
		Plan:        plan,
		Phase:       runner.PhaseRunning,
		Progress:    progress.New(progress.WithDefaultGradient()),
		DrainLine:   components.NewSparkline(40, "Drain time", "ms", styles.Active),
		LatencyLine: components.NewSparkline(40, "Pop p99", "ms", styles.Warn),
	}
	if len(plan) > 0 {
		m.Current = plan[0]
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		if msg.RunID != m.RunID {
			return m, nil
		}
		return m.apply(runner.Event(msg))

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := (msg.Width / 2) - 6
		if half < 10 {
			half = 10
		}
		m.DrainLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) apply(ev runner.Event) (Model, tea.Cmd) {
	switch ev.Kind {
	case runner.EventRoundStarted:
		m.Current = ev.Round
		m.Phase = runner.PhaseRunning

	case runner.EventSample:
		if ev.Sample == nil {
			return m, nil
		}
		m.Samples = append(m.Samples, *ev.Sample)
		m.DrainLine.Add(ev.Sample.ElapsedMillis)
		m.LatencyLine.Add(int64(ev.Sample.PopLatency.P99Ms))
		m.Phase = runner.PhaseCooldown
		return m, m.Progress.SetPercent(m.Percent())

	case runner.EventPaused:
		m.Phase = runner.PhasePaused

	case runner.EventResumed:
		if m.Phase == runner.PhasePaused {
			m.Phase = runner.PhaseCooldown
		}

	case runner.EventFinished:
		return m.Finish(ev.Err), nil
	}
	return m, nil
}

// Finish marks the run ended. It is safe to call more than once.
func (m Model) Finish(err error) Model {
	m.Done = true
	m.Err = err
	if err != nil {
		m.Phase = runner.PhaseFailed
	} else {
		m.Phase = runner.PhaseFinished
	}
	return m
}

// Percent is the share of planned rounds completed.
func (m Model) Percent() float64 {
	if len(m.Plan) == 0 {
		return 0
	}
	pct := float64(len(m.Samples)) / float64(len(m.Plan))
	if pct > 1 {
		pct = 1
	}
	return pct
}

func (m Model) View() string {
	s := strings.Builder{}

	col1 := fmt.Sprintf("QUEUES: %d\nPAYLOAD: %d B", m.Current.QueueCount, m.Current.PayloadSize)
	col2 := fmt.Sprintf("STATE: %s\nROUNDS: %d/%d",
		styles.Phase(m.Phase).Render(string(m.Phase)), len(m.Samples), len(m.Plan))
	col3 := fmt.Sprintf("RUN: %s\nVERSION: %d", shortID(m.RunID), m.Version)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.DrainLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	last := styles.Subtle.Render("waiting for the first round")
	if n := len(m.Samples); n > 0 {
		last = styles.Text.Render(m.Samples[n-1].Message())
	}
	if m.Err != nil {
		last = styles.Error.Render("aborted: " + m.Err.Error())
	}
	width := m.Width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(styles.Box.Width(width).Render(last))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	return s.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
