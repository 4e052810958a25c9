package styles

import (
	"github.com/charmbracelet/lipgloss"

	"maxpop/internal/runner"
)

var (
	ColorPrimary   = lipgloss.Color("#7D56F4")
	ColorSecondary = lipgloss.Color("#04B575")
	ColorError     = lipgloss.Color("#FF5F87")
	ColorWarning   = lipgloss.Color("#FFAF00")
	ColorText      = lipgloss.Color("#FAFAFA")
	ColorSubtle    = lipgloss.Color("#767676")
	ColorBorder    = lipgloss.Color("#3C3C3C")
)

var (
	Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		Padding(0, 1).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(ColorSubtle)

	Text   = lipgloss.NewStyle().Foreground(ColorText)
	Subtle = lipgloss.NewStyle().Foreground(ColorSubtle)

	Value   = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	Active  = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	Error   = lipgloss.NewStyle().Foreground(ColorError)
	Warn    = lipgloss.NewStyle().Foreground(ColorWarning)
	Success = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)

	KeyKey  = lipgloss.NewStyle().Foreground(ColorText).Bold(true)
	KeyDesc = lipgloss.NewStyle().Foreground(ColorSubtle)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1).
		Margin(0, 1)

	Footer = lipgloss.NewStyle().
		Height(1).
		Padding(0, 1)
)

// Phase colours a run phase: green while moving, gold while held, red on failure.
func Phase(p runner.Phase) lipgloss.Style {
	switch p {
	case runner.PhaseRunning:
		return Active
	case runner.PhaseCooldown:
		return Value
	case runner.PhasePaused:
		return Warn
	case runner.PhaseFailed:
		return Error
	case runner.PhaseFinished:
		return Success
	default:
		return Subtle
	}
}

func RenderKey(key, desc string) string {
	return lipgloss.JoinHorizontal(lipgloss.Center,
		KeyKey.Render("<"+key+">"),
		" ",
		KeyDesc.Render(desc),
	)
}
