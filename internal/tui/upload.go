package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/poller"
	"github.com/dcc-ex/exinstaller/internal/product"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Phases of the compile and upload step.
const (
	phaseCompile models.Phase = "compile"
	phaseUpload  models.Phase = "upload"
)

// uploadStep compiles the checked out product for the selected board and
// uploads it.
type uploadStep struct {
	baseStep
	proc *poller.Process

	output   viewport.Model
	copied   []string
	done     bool
	uploaded *models.Install
}

func newUploadStep(p *poller.Poller) *uploadStep {
	return &uploadStep{proc: poller.NewProcess(p), output: viewport.New(78, 10)}
}

func (s *uploadStep) name() string { return "compile_upload" }
func (s *uploadStep) title() string { return "Compile and upload" }
func (s *uploadStep) process() *poller.Process { return s.proc }

func (s *uploadStep) help() string {
	switch {
	case s.done:
		return "Enter:finish | ↑↓:scroll"
	case s.proc.Running:
		return "Working..."
	default:
		return "r:retry | ↑↓:scroll"
	}
}

func (s *uploadStep) enter(a *App) tea.Cmd {
	if s.proc.Running {
		return nil
	}
	s.done = false
	s.uploaded = nil
	s.copied = nil
	s.proc.Err = ""
	s.output.SetContent("")

	sess := a.session
	if sess.configDir != "" {
		if err := product.ValidateConfigDir(sess.configDir, sess.productDir, sess.product); err != nil {
			s.proc.Fail(err.Error())
			return nil
		}
		names := product.GetConfigFiles(sess.configDir, sess.product.ConfigFiles())
		if failed := product.CopyConfigFiles(sess.configDir, sess.productDir, names); len(failed) > 0 {
			s.proc.Fail(fmt.Sprintf("Could not copy config files %v to %s", failed, sess.productDir))
			return nil
		}
		s.copied = names
	}

	board := sess.device.Board()
	cmd := s.proc.Start(phaseCompile, fmt.Sprintf("Compiling %s for %s", sess.product.Name, board.Name), "compile")
	a.deps.Arduino.CompileSketch(board.FQBN, sess.productDir, s.proc.Queue())
	return cmd
}

func (s *uploadStep) update(a *App, msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if s.done {
				return a.advance()
			}
			return nil
		case "r":
			if !s.proc.Running && !s.done {
				return s.enter(a)
			}
			return nil
		}
		var cmd tea.Cmd
		s.output, cmd = s.output.Update(msg)
		return cmd
	case tea.WindowSizeMsg:
		s.output.Width = max(msg.Width-2, 20)
		s.output.Height = max(msg.Height-14, 5)
		return nil
	}

	res, done, cmd := s.proc.Update(msg)
	if !done {
		return cmd
	}
	s.output.SetContent(worker.DataString(res.Message.Data))
	s.output.GotoBottom()
	if res.Message.Status == models.StatusError {
		failResult(s.proc, res)
		return nil
	}

	sess := a.session
	board := sess.device.Board()
	switch s.proc.Phase {
	case phaseCompile:
		cmd := s.proc.Start(phaseUpload, fmt.Sprintf("Uploading to %s on %s", board.Name, sess.device.Port), "upload")
		a.deps.Arduino.UploadSketch(board.FQBN, sess.device.Port, sess.productDir, s.proc.Queue())
		return cmd
	case phaseUpload:
		s.proc.Stop()
		s.done = true
		s.record(a)
		a.setMessage(fmt.Sprintf("%s %s installed on %s", sess.product.Name, sess.version.Name, board.Name), false)
	}
	return nil
}

func (s *uploadStep) record(a *App) {
	sess := a.session
	in := models.Install{
		Product: sess.product.Key,
		Version: sess.version.Name,
		Device:  sess.device.Board().Name,
		FQBN:    sess.device.Board().FQBN,
		Port:    sess.device.Port,
	}
	a.recordAudit("upload", in, "success", sess.productDir)
	if a.deps.Store == nil {
		return
	}
	saved, err := a.deps.Store.SaveInstall(context.Background(), in)
	if err != nil {
		slog.Error("failed to record install", "error", err)
		return
	}
	s.uploaded = saved
}

func (s *uploadStep) view(a *App) string {
	var b strings.Builder
	sess := a.session
	b.WriteString(fmt.Sprintf("\n  %s %s → %s on %s\n",
		sess.product.Name, sess.version.Name, sess.device.Board().Name, sess.device.Port))
	if len(s.copied) > 0 {
		b.WriteString("  " + mutedStyle.Render("Using config files: "+strings.Join(s.copied, ", ")) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(a.renderProcess(s.proc))
	if s.done {
		b.WriteString("  " + okStyle.Render("✓ Upload complete") + "\n")
		if s.uploaded != nil {
			b.WriteString("  " + mutedStyle.Render("Recorded as install "+s.uploaded.ID[:8]) + "\n")
		}
		if tag := sess.device.MotorDriverTag(); tag != "" {
			b.WriteString("  " + mutedStyle.Render("DCC-EX hardware: "+tag) + "\n")
		}
	}
	if s.output.TotalLineCount() > 0 && strings.TrimSpace(s.output.View()) != "" {
		b.WriteString(panelStyle.Render(s.output.View()) + "\n")
	}
	return b.String()
}
