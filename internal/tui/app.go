// Package tui provides the interactive installer wizard.
//
// Every screen is a step with its own poller.Process. A step starts worker
// tasks against its process queue and moves between phases as terminal
// messages arrive; the App only routes keys and poll messages.
package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-git/go-git/v5"
	"github.com/mattn/go-runewidth"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/audit"
	"github.com/dcc-ex/exinstaller/internal/gitclient"
	"github.com/dcc-ex/exinstaller/internal/poller"
	"github.com/dcc-ex/exinstaller/internal/product"
	"github.com/dcc-ex/exinstaller/internal/store"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Deps are the services the wizard drives.
type Deps struct {
	Arduino      *arduino.Manager
	Git          *gitclient.Client
	Catalog      *product.Catalog
	Store        *store.Store  // optional
	Audit        *audit.Writer // optional
	RepoDir      string
	Fake         bool
	PollInterval time.Duration
}

// session is what the user has chosen so far.
type session struct {
	product    product.Product
	productDir string
	repo       *git.Repository
	version    gitclient.Version
	configDir  string
	device     arduino.DetectedDevice
}

// step is one wizard screen.
type step interface {
	name() string
	title() string
	enter(a *App) tea.Cmd
	leave(a *App)
	update(a *App, msg tea.Msg) tea.Cmd
	view(a *App) string
	help() string
	process() *poller.Process
	// typing reports whether the step is capturing text input.
	typing() bool
}

// canceller is a step with a sub-selection that esc closes first.
type canceller interface {
	cancel() bool
}

type baseStep struct{}

func (baseStep) leave(*App) {}
func (baseStep) process() *poller.Process { return nil }
func (baseStep) typing() bool { return false }

// App is the wizard model.
type App struct {
	deps    Deps
	steps   []step
	current int
	session session

	history     *historyModel
	showHistory bool

	spinner  spinner.Model
	width    int
	height   int
	message  string
	msgIsErr bool

	copy func(string) error
}

// New creates the wizard.
func New(deps Deps) *App {
	if deps.Catalog == nil {
		deps.Catalog = product.DefaultCatalog()
	}
	p := poller.New(deps.PollInterval)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activityStyle

	a := &App{
		deps:    deps,
		spinner: sp,
		width:   80,
		height:  24,
		copy:    clipboard.WriteAll,
	}
	a.steps = []step{
		newWelcomeStep(),
		newCLIStep(p),
		newProductStep(),
		newVersionStep(p),
		newDeviceStep(p),
		newUploadStep(p),
	}
	if deps.Store != nil {
		a.history = newHistoryModel(deps.Store)
		a.history.SetSize(a.width, a.height)
	}
	return a
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.steps[a.current].enter(a))
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := a.handleKey(msg); handled {
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if a.history != nil {
			a.history.SetSize(msg.Width, msg.Height-4)
		}

	case runsLoadedMsg:
		if a.history == nil {
			return a, nil
		}
		cmd, _ := a.history.Update(msg)
		return a, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case poller.PendingMsg, poller.ResultMsg:
		// Results go to the step that started the task, even if the user
		// has moved on.
		for _, s := range a.steps {
			if p := s.process(); p != nil && p.Owns(msg) {
				return a, s.update(a, msg)
			}
		}
		return a, nil
	}

	cmd := a.step().update(a, msg)
	if a.showHistory {
		// The list filter reports matches asynchronously.
		hcmd, _ := a.history.Update(msg)
		cmd = tea.Batch(cmd, hcmd)
	}
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return tea.Quit, true
	}
	if a.showHistory {
		cmd, closed := a.history.Update(msg)
		if closed {
			a.showHistory = false
		}
		return cmd, true
	}

	s := a.step()
	switch msg.String() {
	case "h":
		if s.typing() || a.history == nil {
			return nil, false
		}
		a.showHistory = true
		return a.history.Refresh(), true
	case "q":
		if s.typing() {
			return nil, false
		}
		return tea.Quit, true
	case "esc":
		if s.typing() || a.busy() {
			return nil, false
		}
		if c, ok := s.(canceller); ok && c.cancel() {
			return nil, true
		}
		a.back()
		return nil, true
	case "c":
		if s.typing() {
			return nil, false
		}
		a.copyError()
		return nil, true
	}
	return nil, false
}

func (a *App) step() step {
	return a.steps[a.current]
}

func (a *App) busy() bool {
	p := a.step().process()
	return p != nil && p.Running
}

// advance moves to the next step, or quits after the last one.
func (a *App) advance() tea.Cmd {
	if a.current >= len(a.steps)-1 {
		return tea.Quit
	}
	a.step().leave(a)
	a.current++
	a.setMessage("", false)
	slog.Info("enter view", "view", a.step().name())
	return a.step().enter(a)
}

func (a *App) back() {
	if a.current == 0 {
		return
	}
	a.step().leave(a)
	a.current--
	a.setMessage("", false)
	slog.Info("back to view", "view", a.step().name())
}

func (a *App) setMessage(text string, isErr bool) {
	a.message = text
	a.msgIsErr = isErr
}

// errorText returns the error currently on screen, if any.
func (a *App) errorText() string {
	if p := a.step().process(); p != nil && p.Err != "" {
		return p.Err
	}
	if a.msgIsErr {
		return a.message
	}
	return ""
}

func (a *App) copyError() {
	text := a.errorText()
	if text == "" {
		return
	}
	if err := a.copy(text); err != nil {
		a.setMessage(fmt.Sprintf("Clipboard error: %v", err), true)
		return
	}
	a.setMessage("Copied error details to clipboard", false)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder
	s := a.step()

	header := titleStyle.Render("DCC-EX Installer")
	if a.showHistory {
		b.WriteString(header + "\n")
		b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")
		b.WriteString(a.history.View() + "\n")
		b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(" " + a.history.help()))
		return b.String()
	}
	header += "  " + stepStyle.Render(fmt.Sprintf("[%d/%d] %s", a.current+1, len(a.steps), s.title()))
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	b.WriteString(s.view(a))

	if a.message != "" {
		style := okStyle
		if a.msgIsErr {
			style = errStyle
		}
		b.WriteString("\n" + style.Render(a.message))
	}
	b.WriteString("\n")

	status := " " + s.help()
	if a.current > 0 {
		status += " | Esc:back"
	}
	if a.errorText() != "" {
		status += " | c:copy error"
	}
	if a.history != nil {
		status += " | h:history"
	}
	status += " | q:quit"
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}

// renderProcess shows what p is doing or why it failed.
func (a *App) renderProcess(p *poller.Process) string {
	var b strings.Builder
	if p.Running {
		b.WriteString("  " + a.spinner.View() + " " + activityStyle.Render(p.Activity) + "\n")
		if p.Info != "" {
			b.WriteString("    " + mutedStyle.Render(truncate(p.Info, max(a.width-6, 20))) + "\n")
		}
	}
	if p.Err != "" {
		b.WriteString(panelStyle.Render(errStyle.Render(p.Err)) + "\n")
	}
	return b.String()
}

// failResult stops p with the topic and data of an error message.
func failResult(p *poller.Process, res poller.ResultMsg) {
	text := res.Message.Topic
	if data := strings.TrimSpace(worker.DataString(res.Message.Data)); data != "" && data != text {
		text += "\n" + data
	}
	p.Fail(text)
}

// truncate fits s on one line of n cells.
func truncate(s string, n int) string {
	return runewidth.Truncate(strings.ReplaceAll(s, "\n", " "), n, "...")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
