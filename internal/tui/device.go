package tui

import (
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/poller"
)

const phaseRefreshList models.Phase = "refresh_list"

// deviceStep lists attached devices and resolves the one to install to a
// single supported board.
type deviceStep struct {
	baseStep
	proc *poller.Process

	devices  []arduino.DetectedDevice
	scanned  bool
	cursor   int
	choosing bool
	options  []arduino.Board
	option   int
}

func newDeviceStep(p *poller.Poller) *deviceStep {
	return &deviceStep{proc: poller.NewProcess(p)}
}

func (s *deviceStep) name() string { return "select_device" }
func (s *deviceStep) title() string { return "Select device" }
func (s *deviceStep) process() *poller.Process { return s.proc }

func (s *deviceStep) help() string {
	switch {
	case s.proc.Running:
		return "Scanning..."
	case s.choosing:
		return "↑↓:nav | Enter:select board | Esc:cancel"
	default:
		return "↑↓:nav | Enter:select | r:refresh"
	}
}

func (s *deviceStep) enter(a *App) tea.Cmd {
	return s.refresh(a)
}

func (s *deviceStep) refresh(a *App) tea.Cmd {
	if s.proc.Running {
		return nil
	}
	s.choosing = false
	s.proc.Err = ""
	cmd := s.proc.Start(phaseRefreshList, "Scanning for attached devices", "refresh_list")
	a.deps.Arduino.ListBoards(s.proc.Queue())
	return cmd
}

// cancel leaves board selection without leaving the step.
func (s *deviceStep) cancel() bool {
	if !s.choosing {
		return false
	}
	s.choosing = false
	return true
}

func (s *deviceStep) update(a *App, msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyMsg); ok {
		return s.handleKey(a, key.String())
	}

	res, done, cmd := s.proc.Update(msg)
	if !done {
		return cmd
	}
	if res.Message.Status == models.StatusError {
		failResult(s.proc, res)
		return nil
	}

	devices, err := arduino.ParseBoardList(res.Message.Data)
	if err != nil {
		s.proc.Fail(err.Error())
		return nil
	}
	if len(devices) == 0 && a.deps.Fake {
		devices = append(devices, arduino.FakeDevice())
	}
	slog.Info("devices detected", "count", len(devices))
	s.proc.Stop()
	s.devices = devices
	s.scanned = true
	if s.cursor >= len(devices) {
		s.cursor = 0
	}
	return nil
}

func (s *deviceStep) handleKey(a *App, key string) tea.Cmd {
	if s.proc.Running {
		return nil
	}
	switch key {
	case "r":
		return s.refresh(a)
	case "up", "k":
		if s.choosing {
			if s.option > 0 {
				s.option--
			}
		} else if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.choosing {
			if s.option < len(s.options)-1 {
				s.option++
			}
		} else if s.cursor < len(s.devices)-1 {
			s.cursor++
		}
	case "enter":
		if s.choosing {
			return s.chooseBoard(a)
		}
		return s.selectDevice(a)
	}
	return nil
}

func (s *deviceStep) selectDevice(a *App) tea.Cmd {
	if len(s.devices) == 0 {
		return nil
	}
	d := s.devices[s.cursor]
	if d.Known() {
		if !a.session.product.Supports(d.Board().FQBN) {
			a.setMessage(fmt.Sprintf("%s does not support %s", a.session.product.Name, d.Board().Name), true)
			return nil
		}
		return s.use(a, d)
	}

	s.options = s.candidates(a, d)
	if len(s.options) == 0 {
		a.setMessage(fmt.Sprintf("No supported board matches the device on %s", d.Port), true)
		return nil
	}
	s.option = 0
	s.choosing = true
	return nil
}

// candidates lists the boards the user may pick for an ambiguous or
// unknown device.
func (s *deviceStep) candidates(a *App, d arduino.DetectedDevice) []arduino.Board {
	p := a.session.product
	var boards []arduino.Board
	if d.Ambiguous() {
		for _, b := range d.MatchingBoards {
			if p.Supports(b.FQBN) {
				boards = append(boards, b)
			}
		}
		if len(boards) > 0 {
			return boards
		}
	}
	for _, dev := range arduino.SupportedDevices {
		if p.Supports(dev.FQBN) {
			boards = append(boards, arduino.Board{Name: dev.Name, FQBN: dev.FQBN})
		}
	}
	return boards
}

func (s *deviceStep) chooseBoard(a *App) tea.Cmd {
	d := s.devices[s.cursor]
	d.MatchingBoards = []arduino.Board{s.options[s.option]}
	s.choosing = false
	return s.use(a, d)
}

func (s *deviceStep) use(a *App, d arduino.DetectedDevice) tea.Cmd {
	a.session.device = d
	slog.Info("device selected", "port", d.Port, "fqbn", d.Board().FQBN)
	return a.advance()
}

func (s *deviceStep) view(a *App) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(a.renderProcess(s.proc))
	if s.proc.Running {
		return b.String()
	}

	if s.choosing {
		d := s.devices[s.cursor]
		b.WriteString(fmt.Sprintf("  Select the board connected to %s:\n\n", d.Port))
		names := make([]string, len(s.options))
		for i, o := range s.options {
			names[i] = o.Name
		}
		b.WriteString(renderList(names, s.option))
		return b.String()
	}

	if s.scanned && len(s.devices) == 0 {
		b.WriteString("  " + warnStyle.Render("No devices found.") + "\n")
		b.WriteString("  " + helpStyle.Render("Connect your device via USB and press r to scan again") + "\n")
		return b.String()
	}

	if len(s.devices) > 0 {
		b.WriteString("  Select the device to install " + a.session.product.Name + " on:\n\n")
		labels := make([]string, len(s.devices))
		for i, d := range s.devices {
			labels[i] = d.Describe()
		}
		b.WriteString(renderList(labels, s.cursor))
		if tag := s.devices[s.cursor].MotorDriverTag(); tag != "" {
			b.WriteString("\n  " + mutedStyle.Render("DCC-EX hardware: "+tag) + "\n")
		}
	}
	return b.String()
}
