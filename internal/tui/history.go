package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/store"
)

// historyLimit caps how many runs the history screen loads.
const historyLimit = 200

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	statusInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusError   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
)

// runItem implements list.Item for a recorded worker task.
type runItem struct {
	run models.Run
}

func (i runItem) FilterValue() string { return i.Title() }

func (i runItem) Title() string {
	if len(i.run.Args) == 0 {
		return i.run.Name
	}
	return i.run.Name + " " + strings.Join(i.run.Args, " ")
}

func (i runItem) Description() string {
	took := i.run.EndedAt.Sub(i.run.StartedAt).Round(time.Millisecond)
	return fmt.Sprintf("%s • %s • %s", formatStatus(i.run.Status), i.run.StartedAt.Local().Format("2006-01-02 15:04:05"), took)
}

func formatStatus(status models.Status) string {
	switch status {
	case models.StatusInfo:
		return statusInfo.Render("● info")
	case models.StatusSuccess:
		return statusSuccess.Render("● success")
	case models.StatusError:
		return statusError.Render("● error")
	default:
		return string(status)
	}
}

var historyFilters = []models.Status{"", models.StatusSuccess, models.StatusError}
var historyFilterLabels = []string{"all", "success", "error"}

// historyModel lists recorded runs and shows the detail of one.
type historyModel struct {
	store       *store.Store
	list        list.Model
	runs        []models.Run
	filterIndex int
	detail      *models.Run
	loading     bool
	err         string
	width       int
	height      int
}

type runsLoadedMsg struct {
	runs []models.Run
	err  error
}

func newHistoryModel(s *store.Store) *historyModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Run history [all]"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)
	l.Styles.Title = listTitleStyle

	return &historyModel{store: s, list: l}
}

// SetSize sets the list dimensions.
func (m *historyModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.list.SetSize(w, max(h-4, 5))
}

// CycleFilter cycles through status filters.
func (m *historyModel) CycleFilter() {
	m.filterIndex = (m.filterIndex + 1) % len(historyFilters)
	m.list.Title = fmt.Sprintf("Run history [%s]", historyFilterLabels[m.filterIndex])
	m.apply()
}

// Refresh loads runs from the store.
func (m *historyModel) Refresh() tea.Cmd {
	m.loading = true
	s := m.store
	return func() tea.Msg {
		runs, err := s.ListRuns(context.Background(), historyLimit)
		return runsLoadedMsg{runs: runs, err: err}
	}
}

func (m *historyModel) apply() {
	want := historyFilters[m.filterIndex]
	var items []list.Item
	for _, r := range m.runs {
		if want == "" || r.Status == want {
			items = append(items, runItem{run: r})
		}
	}
	m.list.SetItems(items)
}

// filtering reports whether the list is capturing filter text.
func (m *historyModel) filtering() bool {
	return m.list.SettingFilter()
}

// Update handles messages. closed is true when the user left the screen.
func (m *historyModel) Update(msg tea.Msg) (cmd tea.Cmd, closed bool) {
	switch msg := msg.(type) {
	case runsLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err.Error()
			return nil, false
		}
		m.err = ""
		m.runs = msg.runs
		m.apply()
		return nil, false

	case tea.KeyMsg:
		if m.filtering() {
			break
		}
		switch msg.String() {
		case "esc", "h":
			if m.detail != nil {
				m.detail = nil
				return nil, false
			}
			return nil, true
		case "r":
			return m.Refresh(), false
		case "f":
			m.CycleFilter()
			return nil, false
		case "enter":
			if item, ok := m.list.SelectedItem().(runItem); ok {
				run := item.run
				m.detail = &run
			}
			return nil, false
		}
		if m.detail != nil {
			return nil, false
		}
	}

	m.list, cmd = m.list.Update(msg)
	return cmd, false
}

// View renders the history screen.
func (m *historyModel) View() string {
	if m.err != "" {
		return "\n  " + errStyle.Render("Cannot load history: "+m.err) + "\n"
	}
	if m.loading {
		return "\n  Loading run history...\n"
	}
	if m.detail != nil {
		return m.renderDetail(*m.detail)
	}
	return m.list.View()
}

func (m *historyModel) renderDetail(r models.Run) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(runItem{run: r}.Title()))
	b.WriteString("\n\n")
	b.WriteString(renderField("ID", r.ID))
	b.WriteString(renderField("Tool", r.Tool))
	b.WriteString(renderField("Status", formatStatus(r.Status)))
	b.WriteString(renderField("Topic", r.Topic))
	b.WriteString(renderField("Started", r.StartedAt.Local().Format(time.RFC3339)))
	b.WriteString(renderField("Ended", r.EndedAt.Local().Format(time.RFC3339)))
	if r.Data != "" {
		b.WriteString("\n" + panelStyle.Render(r.Data) + "\n")
	}

	lines := strings.Split(b.String(), "\n")
	if m.height > 0 && len(lines) > m.height {
		lines = lines[:m.height]
	}
	return strings.Join(lines, "\n")
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func (m *historyModel) help() string {
	if m.detail != nil {
		return "Esc:back to list"
	}
	return fmt.Sprintf("Runs: %d | ↑↓:nav | Enter:detail | f:filter | /:search | r:refresh | Esc:close", len(m.list.Items()))
}
