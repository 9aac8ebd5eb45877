package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/poller"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Phases of the Arduino CLI step.
const (
	phaseGetVersion       models.Phase = "get_version"
	phaseDownloadCLI      models.Phase = "download_cli"
	phaseExtractCLI       models.Phase = "extract_cli"
	phaseInitConfig       models.Phase = "init_config"
	phaseUpdateIndex      models.Phase = "update_index"
	phaseInstallPlatforms models.Phase = "install_platforms"
	phaseInstallLibraries models.Phase = "install_libraries"
)

// cliStep makes sure the supported Arduino CLI is installed together with
// every platform and library the products need.
type cliStep struct {
	baseStep
	proc *poller.Process

	version  string
	platform int
	library  int
	done     bool
	log      []string
}

func newCLIStep(p *poller.Poller) *cliStep {
	return &cliStep{proc: poller.NewProcess(p)}
}

func (s *cliStep) name() string { return "manage_cli" }
func (s *cliStep) title() string { return "Arduino CLI" }
func (s *cliStep) process() *poller.Process { return s.proc }

func (s *cliStep) help() string {
	switch {
	case s.done:
		return "Enter:next | r:reinstall packages"
	case s.proc.Err != "":
		return "r:retry"
	default:
		return "Working..."
	}
}

func (s *cliStep) enter(a *App) tea.Cmd {
	if s.done || s.proc.Running {
		return nil
	}
	return s.begin(a)
}

func (s *cliStep) begin(a *App) tea.Cmd {
	s.done = false
	s.log = nil
	if !a.deps.Arduino.IsInstalled() {
		return s.download(a)
	}
	cmd := s.proc.Start(phaseGetVersion, "Checking the installed Arduino CLI version", "get_version")
	a.deps.Arduino.GetVersion(s.proc.Queue())
	return cmd
}

func (s *cliStep) download(a *App) tea.Cmd {
	cmd := s.proc.Start(phaseDownloadCLI, "Downloading Arduino CLI "+arduino.CLIVersion, "download_cli")
	a.deps.Arduino.DownloadCLI(s.proc.Queue())
	return cmd
}

func (s *cliStep) update(a *App, msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			if s.done {
				return a.advance()
			}
		case "r":
			if !s.proc.Running {
				s.proc.Err = ""
				return s.begin(a)
			}
		}
		return nil
	}

	res, done, cmd := s.proc.Update(msg)
	if !done {
		return cmd
	}
	if res.Message.Status == models.StatusError {
		failResult(s.proc, res)
		return nil
	}
	return s.next(a, res)
}

// next moves to the phase after the one that just succeeded.
func (s *cliStep) next(a *App, res poller.ResultMsg) tea.Cmd {
	m := a.deps.Arduino
	q := s.proc.Queue()

	switch s.proc.Phase {
	case phaseGetVersion:
		v, err := arduino.ParseVersion(res.Message.Data)
		if err != nil {
			s.proc.Fail(err.Error())
			return nil
		}
		if !arduino.SupportedVersion(v) {
			slog.Info("unsupported arduino-cli version, reinstalling", "version", v, "want", arduino.CLIVersion)
			if err := arduino.DeleteCLI(m.CLIPath()); err != nil {
				s.proc.Fail(fmt.Sprintf("Could not remove Arduino CLI %s: %v", v, err))
				return nil
			}
			a.recordAudit("reinstall_cli", map[string]string{"found": v, "want": arduino.CLIVersion}, "deleted", m.CLIPath())
			s.log = append(s.log, fmt.Sprintf("Removed unsupported Arduino CLI %s", v))
			return s.download(a)
		}
		s.version = v
		s.log = append(s.log, "Arduino CLI "+v+" is installed")
		return s.initConfig(a)

	case phaseDownloadCLI:
		archive := worker.DataString(res.Message.Data)
		s.log = append(s.log, "Downloaded "+archive)
		cmd := s.proc.Start(phaseExtractCLI, "Extracting Arduino CLI", "extract_cli")
		m.InstallCLI(archive, q)
		return cmd

	case phaseExtractCLI:
		s.version = arduino.CLIVersion
		s.log = append(s.log, "Installed Arduino CLI to "+m.CLIPath())
		a.recordAudit("install_cli", map[string]string{"version": arduino.CLIVersion}, "success", m.CLIPath())
		return s.initConfig(a)

	case phaseInitConfig:
		s.log = append(s.log, "Initialised Arduino CLI configuration")
		cmd := s.proc.Start(phaseUpdateIndex, "Updating the platform index", "update_index")
		m.UpdateIndex(q)
		return cmd

	case phaseUpdateIndex:
		s.log = append(s.log, "Updated the platform index")
		s.platform = 0
		return s.installPlatform(a)

	case phaseInstallPlatforms:
		s.log = append(s.log, "Installed "+arduino.AllPlatforms()[s.platform].Package())
		s.platform++
		if s.platform < len(arduino.AllPlatforms()) {
			return s.installPlatform(a)
		}
		s.library = 0
		return s.installLibrary(a)

	case phaseInstallLibraries:
		s.log = append(s.log, "Installed "+arduino.Libraries[s.library].Package())
		s.library++
		if s.library < len(arduino.Libraries) {
			return s.installLibrary(a)
		}
		s.proc.Stop()
		s.done = true
		a.setMessage("Arduino CLI and packages are ready", false)
	}
	return nil
}

func (s *cliStep) initConfig(a *App) tea.Cmd {
	cmd := s.proc.Start(phaseInitConfig, "Initialising the Arduino CLI configuration", "init_config")
	a.deps.Arduino.InitialiseConfig(s.proc.Queue())
	return cmd
}

func (s *cliStep) installPlatform(a *App) tea.Cmd {
	p := arduino.AllPlatforms()[s.platform]
	cmd := s.proc.Start(phaseInstallPlatforms, "Installing "+p.Name+" "+p.Version, "install_platforms")
	a.deps.Arduino.InstallPackage(p.Package(), s.proc.Queue())
	return cmd
}

func (s *cliStep) installLibrary(a *App) tea.Cmd {
	if len(arduino.Libraries) == 0 {
		s.proc.Stop()
		s.done = true
		return nil
	}
	l := arduino.Libraries[s.library]
	cmd := s.proc.Start(phaseInstallLibraries, "Installing library "+l.Name+" "+l.Version, "install_libraries")
	a.deps.Arduino.InstallLibrary(l.Package(), s.proc.Queue())
	return cmd
}

func (s *cliStep) view(a *App) string {
	var b strings.Builder
	b.WriteString("\n")
	for _, line := range s.log {
		b.WriteString("  " + okStyle.Render("✓") + " " + line + "\n")
	}
	b.WriteString(a.renderProcess(s.proc))
	if s.done {
		b.WriteString("\n  " + okStyle.Render("Arduino CLI "+s.version+" is ready.") + "\n")
		b.WriteString("  " + helpStyle.Render("Press Enter to choose a product") + "\n")
	}
	return b.String()
}

// recordAudit writes an audit entry when auditing is configured.
func (a *App) recordAudit(action string, inputs any, outcome, details string) {
	if a.deps.Audit == nil {
		return
	}
	if _, err := a.deps.Audit.Record(context.Background(), action, inputs, outcome, details); err != nil {
		slog.Error("failed to write audit entry", "action", action, "error", err)
	}
}
