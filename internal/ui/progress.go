// Package ui renders analysis progress in the terminal.
package ui

import (
	"fmt"
	"strings"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"lintwatch/internal/progress"
)

type progressModel struct {
	title    string
	events   <-chan progress.Event
	spinner  spinner.Model
	prog     bprogress.Model
	items    []fileItem
	index    map[string]int
	text     string
	fraction float64
	width    int
	done      bool
	canceled  bool
	finishing bool
	cancel    func()
}

type fileItem struct {
	path   string
	status progress.Status
}

type eventMsg progress.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders the progress of
// one analysis job over files. Ctrl+C calls cancel, which may be nil; the
// model keeps running until events is closed.
func NewProgressModel(title string, files []string, events <-chan progress.Event, cancel func()) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := bprogress.New(bprogress.WithDefaultGradient())
	prog.Width = 76

	items := make([]fileItem, 0, len(files))
	index := make(map[string]int, len(files))
	for i, file := range files {
		items = append(items, fileItem{path: file, status: progress.StatusQueued})
		index[file] = i
	}
	return &progressModel{
		title:    title,
		events:   events,
		spinner:  sp,
		prog:     prog,
		items:    items,
		index:    index,
		fraction: -1,
		width:    80,
		cancel:   cancel,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(progress.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC && m.cancel != nil {
			m.cancel()
		}
		return m, nil
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case bprogress.FrameMsg:
		model, cmd := m.prog.Update(msg)
		m.prog = model.(bprogress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.text != "" {
		header = fmt.Sprintf("%s (%s)", header, m.text)
	}
	switch {
	case m.canceled:
		header = "canceled: " + header
	case m.done:
		header = "done: " + header
	case m.finishing:
		header = m.spinner.View() + " finishing: " + header
	default:
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	nameWidth := max(m.width-16, 20)
	for _, item := range m.items {
		status := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		fmt.Fprintf(&b, "  %s %s\n", status, truncate(item.path, nameWidth))
	}

	b.WriteString("\n")
	switch {
	case m.done && !m.canceled:
		b.WriteString(m.prog.ViewAs(1.0))
	case m.fraction < 0:
		b.WriteString(m.prog.ViewAs(0))
	default:
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev progress.Event) tea.Cmd {
	if ev.File != "" {
		if idx, ok := m.index[ev.File]; ok {
			m.items[idx].status = ev.Status
		}
		return nil
	}
	m.finishing = ev.NonCancelable
	if ev.Status == progress.StatusCanceled {
		m.canceled = true
		for i := range m.items {
			if m.items[i].status == progress.StatusQueued || m.items[i].status == progress.StatusWorking {
				m.items[i].status = progress.StatusCanceled
			}
		}
		return nil
	}
	if ev.Text != "" {
		m.text = ev.Text
	}
	if ev.Stage == progress.StageAnalyze && ev.Status == progress.StatusWorking {
		for i := range m.items {
			if m.items[i].status == progress.StatusQueued {
				m.items[i].status = progress.StatusWorking
			}
		}
	}
	if ev.Fraction < 0 || ev.Status == progress.StatusError {
		m.fraction = -1
		return nil
	}
	if ev.Fraction > m.fraction {
		m.fraction = ev.Fraction
		return m.prog.SetPercent(ev.Fraction)
	}
	return nil
}

func styleStatus(status progress.Status) lipgloss.Style {
	switch status {
	case progress.StatusDone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case progress.StatusError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case progress.StatusCanceled:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case progress.StatusWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
