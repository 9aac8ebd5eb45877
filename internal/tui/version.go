package tui

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/dcc-ex/exinstaller/internal/gitclient"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/poller"
	"github.com/dcc-ex/exinstaller/internal/product"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Phases of the version step.
const (
	phaseCloneRepo  models.Phase = "clone_repo"
	phasePullLatest models.Phase = "pull_latest"
)

type versionChoice struct {
	label   string
	version gitclient.Version
}

// configChangedMsg reports a change to a file in the chosen configuration
// directory.
type configChangedMsg struct {
	dir  string
	file string
}

// versionStep gets an up to date copy of the product repository and checks
// out the version the user picks. The user may also point at a directory
// holding an existing configuration.
type versionStep struct {
	baseStep
	proc *poller.Process

	changes  []string
	pulled   string
	choices  []versionChoice
	cursor   int
	input    textinput.Model
	editing  bool
	configOK bool

	watchDir    string
	watchCh     <-chan string
	cancelWatch context.CancelFunc
}

func newVersionStep(p *poller.Poller) *versionStep {
	ti := textinput.New()
	ti.Placeholder = "Directory containing your existing config files"
	ti.CharLimit = 512
	ti.Width = 60
	return &versionStep{proc: poller.NewProcess(p), input: ti}
}

func (s *versionStep) name() string { return "select_version" }
func (s *versionStep) title() string { return "Select version" }
func (s *versionStep) process() *poller.Process { return s.proc }
func (s *versionStep) typing() bool { return s.editing }

func (s *versionStep) help() string {
	switch {
	case s.editing:
		return "Enter:use directory | Esc:cancel"
	case len(s.changes) > 0:
		return "o:override local changes | r:check again"
	case len(s.choices) > 0:
		return "↑↓:nav | Enter:select | e:existing config | x:clear config | r:refresh"
	case s.proc.Err != "":
		return "r:retry"
	default:
		return "Working..."
	}
}

func (s *versionStep) enter(a *App) tea.Cmd {
	if s.proc.Running {
		return nil
	}
	s.changes = nil
	s.choices = nil
	s.cursor = 0
	s.pulled = ""
	s.proc.Err = ""

	dir := a.session.productDir
	p := a.session.product

	if gitclient.DirIsGitRepo(dir) {
		if failed := product.DeleteConfigFiles(dir, p.ConfigFiles()); len(failed) > 0 {
			s.proc.Fail(fmt.Sprintf("Could not delete the old config files %v from %s. Remove them and try again.", failed, dir))
			return nil
		}
		repo, err := a.deps.Git.GetRepo(dir)
		if err != nil {
			s.proc.Fail(err.Error())
			return nil
		}
		a.session.repo = repo
		changes, err := a.deps.Git.CheckLocalChanges(repo)
		if err != nil {
			s.proc.Fail(err.Error())
			return nil
		}
		if len(changes) > 0 {
			s.changes = changes
			return nil
		}
		return s.pull(a)
	}

	if _, err := os.Stat(dir); err == nil && !product.DirIsEmpty(dir) {
		s.proc.Fail(fmt.Sprintf("%s exists but is not a %s repository. Move or delete it and try again.", dir, p.Name))
		return nil
	}
	cmd := s.proc.Start(phaseCloneRepo, "Downloading "+p.Name, "clone_repo")
	a.deps.Git.CloneRepo(p.RepoURL, dir, s.proc.Queue())
	return cmd
}

func (s *versionStep) pull(a *App) tea.Cmd {
	p := a.session.product
	if err := a.deps.Git.CheckoutBranch(a.session.repo, p.Branch); err != nil {
		s.proc.Fail(fmt.Sprintf("Could not switch %s to the %s branch: %v", a.session.productDir, p.Branch, err))
		return nil
	}
	cmd := s.proc.Start(phasePullLatest, "Getting the latest "+p.Name+" updates", "pull")
	a.deps.Git.PullLatest(a.session.repo, p.Branch, s.proc.Queue())
	return cmd
}

func (s *versionStep) leave(*App) {
	s.stopWatch()
}

func (s *versionStep) stopWatch() {
	if s.cancelWatch != nil {
		s.cancelWatch()
		s.cancelWatch = nil
	}
	s.watchDir = ""
	s.watchCh = nil
}

func (s *versionStep) update(a *App, msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if s.editing {
			return s.updateInput(a, msg)
		}
		return s.handleKey(a, msg.String())

	case configChangedMsg:
		if msg.dir != s.watchDir || s.cancelWatch == nil {
			return nil
		}
		slog.Info("config file changed", "dir", msg.dir, "file", msg.file)
		s.validateConfig(a, msg.dir)
		if s.configOK {
			a.setMessage(msg.file+" changed, configuration is still valid", false)
		}
		return s.waitForChange(msg.dir)
	}

	res, done, cmd := s.proc.Update(msg)
	if !done {
		return cmd
	}
	if res.Message.Status == models.StatusError {
		failResult(s.proc, res)
		return nil
	}

	switch s.proc.Phase {
	case phaseCloneRepo:
		repo, ok := res.Message.Data.(*git.Repository)
		if !ok {
			s.proc.Fail("clone did not return a repository")
			return nil
		}
		a.session.repo = repo
		if err := a.deps.Git.CheckoutBranch(repo, a.session.product.Branch); err != nil {
			slog.Warn("failed to check out default branch", "branch", a.session.product.Branch, "error", err)
		}
	case phasePullLatest:
		s.pulled = worker.DataString(res.Message.Data)
	}
	s.proc.Stop()
	s.loadVersions(a)
	return nil
}

func (s *versionStep) handleKey(a *App, key string) tea.Cmd {
	if s.proc.Running {
		return nil
	}
	switch key {
	case "r":
		return s.enter(a)
	case "o":
		if len(s.changes) == 0 {
			return nil
		}
		dir := a.session.productDir
		if err := a.deps.Git.HardReset(a.session.repo); err != nil {
			s.proc.Fail(fmt.Sprintf("Could not discard local changes in %s: %v", dir, err))
			return nil
		}
		a.recordAudit("hard_reset", map[string]any{"dir": dir, "changes": s.changes}, "success", dir)
		s.changes = nil
		return s.pull(a)
	case "up", "k":
		if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.cursor < len(s.choices)-1 {
			s.cursor++
		}
	case "e":
		if len(s.choices) > 0 {
			s.editing = true
			s.input.SetValue(a.session.configDir)
			return s.input.Focus()
		}
	case "x":
		a.session.configDir = ""
		s.configOK = false
		s.stopWatch()
	case "enter":
		return s.selectVersion(a)
	}
	return nil
}

func (s *versionStep) updateInput(a *App, msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		s.editing = false
		s.input.Blur()
		return nil
	case "enter":
		s.editing = false
		s.input.Blur()
		dir := strings.TrimSpace(s.input.Value())
		if dir == "" {
			return nil
		}
		s.validateConfig(a, dir)
		if !s.configOK {
			return nil
		}
		a.session.configDir = dir
		return s.watch(dir, a.session.product)
	}
	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)
	return cmd
}

func (s *versionStep) validateConfig(a *App, dir string) {
	err := product.ValidateConfigDir(dir, a.session.productDir, a.session.product)
	s.configOK = err == nil
	if err != nil {
		a.setMessage(err.Error(), true)
		return
	}
	a.setMessage("Using configuration files from "+dir, false)
}

func (s *versionStep) watch(dir string, p product.Product) tea.Cmd {
	s.stopWatch()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := product.Watch(ctx, dir, p.ConfigFiles())
	if err != nil {
		cancel()
		slog.Warn("cannot watch config directory", "dir", dir, "error", err)
		return nil
	}
	s.cancelWatch = cancel
	s.watchDir = dir
	s.watchCh = ch
	return s.waitForChange(dir)
}

func (s *versionStep) waitForChange(dir string) tea.Cmd {
	ch := s.watchCh
	return func() tea.Msg {
		file, ok := <-ch
		if !ok {
			return nil
		}
		return configChangedMsg{dir: dir, file: file}
	}
}

func (s *versionStep) loadVersions(a *App) {
	repo := a.session.repo
	gc := a.deps.Git
	p := a.session.product

	var choices []versionChoice
	if v, ok, err := gc.GetLatestProd(repo); err == nil && ok {
		choices = append(choices, versionChoice{label: "Latest Production release (" + v.Name + ")", version: v})
	}
	if v, ok, err := gc.GetLatestDevel(repo); err == nil && ok {
		choices = append(choices, versionChoice{label: "Latest Development release (" + v.Name + ")", version: v})
	}
	if v, ok := gc.DevelBranch(repo); ok {
		choices = append(choices, versionChoice{label: "Development branch (unreleased)", version: v})
	}
	versions, err := gc.GetRepoVersions(repo)
	if err != nil {
		s.proc.Fail(err.Error())
		return
	}
	for _, v := range versions {
		choices = append(choices, versionChoice{label: v.Name, version: v})
	}
	choices = append(choices, versionChoice{
		label:   "Latest " + p.Branch + " branch",
		version: gitclient.Version{Name: p.Branch, Ref: plumbing.NewBranchReferenceName(p.Branch)},
	})
	s.choices = choices
	s.cursor = 0
}

func (s *versionStep) selectVersion(a *App) tea.Cmd {
	if len(s.choices) == 0 {
		return nil
	}
	if a.session.configDir != "" && !s.configOK {
		a.setMessage("The chosen configuration directory is not valid. Fix it or press x to clear it.", true)
		return nil
	}
	v := s.choices[s.cursor].version
	if err := a.deps.Git.CheckoutRef(a.session.repo, v.Ref); err != nil {
		s.proc.Fail(fmt.Sprintf("Could not select %s: %v", v.Name, err))
		return nil
	}
	a.session.version = v
	slog.Info("version selected", "product", a.session.product.Key, "version", v.Name)
	return a.advance()
}

func (s *versionStep) view(a *App) string {
	var b strings.Builder
	p := a.session.product
	b.WriteString("\n  " + p.Name + " in " + mutedStyle.Render(a.session.productDir) + "\n\n")
	b.WriteString(a.renderProcess(s.proc))

	if len(s.changes) > 0 {
		b.WriteString("  " + warnStyle.Render("Local changes were found:") + "\n")
		for _, c := range s.changes {
			b.WriteString("    • " + c + "\n")
		}
		b.WriteString("\n  " + helpStyle.Render("Press o to discard them and continue, or move your changes elsewhere and press r") + "\n")
		return b.String()
	}

	if len(s.choices) > 0 {
		if s.pulled != "" {
			b.WriteString("  " + mutedStyle.Render(s.pulled) + "\n\n")
		}
		b.WriteString("  Which version do you want to install?\n\n")
		labels := make([]string, len(s.choices))
		for i, c := range s.choices {
			labels[i] = c.label
		}
		b.WriteString(renderList(labels, s.cursor))

		b.WriteString("\n  Existing configuration: ")
		switch {
		case a.session.configDir == "":
			b.WriteString(mutedStyle.Render("none (use the product defaults)"))
		case s.configOK:
			b.WriteString(okStyle.Render("✓ " + a.session.configDir))
		default:
			b.WriteString(errStyle.Render("✗ " + a.session.configDir))
		}
		b.WriteString("\n")
		if s.editing {
			b.WriteString(inputBoxStyle.Render(s.input.View()) + "\n")
		}
	}
	return b.String()
}
