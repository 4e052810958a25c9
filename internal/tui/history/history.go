package history

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"maxpop/internal/runner"
	"maxpop/internal/storage"
	"maxpop/internal/tui/styles"
)

// Source lists recorded runs and their samples; *storage.Store implements it.
type Source interface {
	Runs() ([]storage.RunRecord, error)
	Samples(runID string) ([]runner.Sample, error)
}

// Model browses past runs. Enter opens the samples of the selected run, esc goes back.
type Model struct {
	Source  Source
	Runs    table.Model
	Detail  table.Model
	Showing string
	Err     error

	records []storage.RunRecord
	Width   int
	Height  int
}

func NewModel(src Source) Model {
	m := Model{
		Source: src,
		Runs: newTable([]table.Column{
			{Title: "Started", Width: 20},
			{Title: "Run", Width: 10},
			{Title: "Ver", Width: 5},
			{Title: "Rounds", Width: 8},
			{Title: "Outcome", Width: 10},
			{Title: "Error", Width: 30},
		}),
		Detail: newTable([]table.Column{
			{Title: "Queues", Width: 8},
			{Title: "Payload", Width: 9},
			{Title: "Drain ms", Width: 10},
			{Title: "p99 ms", Width: 8},
			{Title: "Push errs", Width: 10},
		}),
	}
	m.Refresh()
	return m
}

func newTable(columns []table.Column) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func (m *Model) Refresh() {
	records, err := m.Source.Runs()
	m.Err = err
	m.records = records

	rows := make([]table.Row, len(records))
	for i, rec := range records {
		id := rec.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows[i] = table.Row{
			rec.StartedAt.Format(time.RFC822),
			id,
			fmt.Sprintf("%d", rec.Version),
			fmt.Sprintf("%d", rec.Samples),
			rec.Outcome,
			rec.Err,
		}
	}
	m.Runs.SetRows(rows)
}

func (m *Model) open(idx int) {
	if idx < 0 || idx >= len(m.records) {
		return
	}
	id := m.records[idx].ID
	samples, err := m.Source.Samples(id)
	if err != nil {
		m.Err = err
		return
	}

	rows := make([]table.Row, len(samples))
	for i, s := range samples {
		rows[i] = table.Row{
			fmt.Sprintf("%d", s.QueueCount),
			fmt.Sprintf("%d", s.PayloadSize),
			fmt.Sprintf("%d", s.ElapsedMillis),
			fmt.Sprintf("%.2f", s.PopLatency.P99Ms),
			fmt.Sprintf("%d", s.PushErrors),
		}
	}
	m.Detail.SetRows(rows)
	m.Showing = id
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Runs.SetWidth(msg.Width - 4)
		m.Detail.SetWidth(msg.Width - 4)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "enter":
			if m.Showing == "" {
				m.open(m.Runs.Cursor())
			}
			return m, nil
		case "esc":
			m.Showing = ""
			return m, nil
		}
	}

	if m.Showing != "" {
		m.Detail, cmd = m.Detail.Update(msg)
	} else {
		m.Runs, cmd = m.Runs.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	title := "Runs"
	body := m.Runs.View()
	help := styles.RenderKey("enter", "samples") + "  " + styles.RenderKey("q", "quit")
	if m.Showing != "" {
		title = "Samples of " + m.Showing
		body = m.Detail.View()
		help = styles.RenderKey("esc", "back") + "  " + styles.RenderKey("q", "quit")
	}
	if m.Err != nil {
		help += "  " + styles.Error.Render(m.Err.Error())
	}
	return styles.Title.Render(title) + "\n" + styles.Box.Render(body) + "\n" + styles.Footer.Render(help)
}
