package tui

import (
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

const welcomeText = `# Welcome to the DCC-EX Installer

This installer walks you through loading DCC-EX software onto your device:

1. Install the **Arduino CLI** and the platforms it needs
2. Choose a **product**: EX-CommandStation, EX-IOExpander or EX-Turntable
3. Download the product and pick a **version**
4. Select the attached **device**
5. **Compile and upload**

Connect your device via USB before you continue.
`

type welcomeStep struct {
	baseStep
	rendered string
}

func newWelcomeStep() *welcomeStep {
	return &welcomeStep{}
}

func (s *welcomeStep) name() string { return "welcome" }
func (s *welcomeStep) title() string { return "Welcome" }
func (s *welcomeStep) help() string { return "Enter:start" }

func (s *welcomeStep) enter(a *App) tea.Cmd {
	s.render(a.width)
	return nil
}

func (s *welcomeStep) render(width int) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-4, 40)),
	)
	if err == nil {
		s.rendered, err = r.Render(welcomeText)
	}
	if err != nil {
		slog.Warn("failed to render welcome text", "error", err)
		s.rendered = welcomeText
	}
}

func (s *welcomeStep) update(a *App, msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.render(msg.Width)
	case tea.KeyMsg:
		if msg.String() == "enter" {
			return a.advance()
		}
	}
	return nil
}

func (s *welcomeStep) view(a *App) string {
	if s.rendered == "" {
		s.render(a.width)
	}
	return s.rendered
}
