package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline plots the last Width values on one line, scaled to the window max.
type Sparkline struct {
	Data  []int64
	Width int
	Max   int64
	Style lipgloss.Style
	Label string
	Unit  string
}

func NewSparkline(width int, label, unit string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Unit:  unit,
		Style: style,
		Data:  make([]int64, 0, width),
	}
}

func (s *Sparkline) Add(val int64) {
	if val < 0 {
		val = 0
	}
	s.Data = append(s.Data, val)
	if s.Width > 0 && len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}

	s.Max = 0
	for _, v := range s.Data {
		if v > s.Max {
			s.Max = v
		}
	}
}

// Last returns the newest value, or 0 when empty.
func (s Sparkline) Last() int64 {
	if len(s.Data) == 0 {
		return 0
	}
	return s.Data[len(s.Data)-1]
}

func (s Sparkline) Graph() string {
	var graph strings.Builder
	for _, v := range s.Data {
		idx := 0
		if s.Max > 0 {
			idx = int(float64(v) / float64(s.Max) * float64(len(levels)-1))
		}
		if idx >= len(levels) {
			idx = len(levels) - 1
		}
		graph.WriteRune(levels[idx])
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}
	return graph.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	header := fmt.Sprintf("%s  %d%s (max %d%s)", s.Label, s.Last(), s.Unit, s.Max, s.Unit)
	return s.Style.Render(header) + "\n" + s.Style.Render(s.Graph())
}
