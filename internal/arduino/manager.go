package arduino

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dcc-ex/exinstaller/internal/connectors"
	"github.com/dcc-ex/exinstaller/internal/gate"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Per-command time limits. Compile and upload are unbounded.
const (
	ListBoardsTimeLimit     = 120 * time.Second
	InstallPackageTimeLimit = 600 * time.Second
)

// TopicNotInstalled is posted when a query needs a CLI that is not there.
const TopicNotInstalled = "Arduino CLI is not installed"

// TimeLimits groups the configurable command time limits.
type TimeLimits struct {
	Default        time.Duration
	ListBoards     time.Duration
	InstallPackage time.Duration
}

// DefaultTimeLimits returns the stock limits.
func DefaultTimeLimits() TimeLimits {
	return TimeLimits{
		Default:        worker.DefaultTimeLimit,
		ListBoards:     ListBoardsTimeLimit,
		InstallPackage: InstallPackageTimeLimit,
	}
}

// Manager starts Arduino CLI commands as worker tasks. Every operation
// posts its messages to the queue it is given and returns immediately.
type Manager struct {
	gate     *gate.Gate
	conn     connectors.Connector
	cliPath  string
	limits   TimeLimits
	recorder worker.Recorder
	client   *http.Client
	baseURL  string
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeLimits overrides the command time limits.
func WithTimeLimits(l TimeLimits) Option {
	return func(m *Manager) { m.limits = l }
}

// WithRecorder records every command run.
func WithRecorder(r worker.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithHTTPClient sets the client used to download the CLI.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithReleaseURL changes where CLI archives are downloaded from.
func WithReleaseURL(url string) Option {
	return func(m *Manager) { m.baseURL = strings.TrimSuffix(url, "/") + "/" }
}

// NewManager creates a Manager for the CLI at cliPath.
func NewManager(g *gate.Gate, conn connectors.Connector, cliPath string, opts ...Option) *Manager {
	m := &Manager{
		gate:    g,
		conn:    conn,
		cliPath: cliPath,
		limits:  DefaultTimeLimits(),
		client:  &http.Client{},
		baseURL: ReleaseURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CLIPath returns the path of the managed CLI.
func (m *Manager) CLIPath() string {
	return m.cliPath
}

// IsInstalled reports whether the managed CLI is present and executable.
func (m *Manager) IsInstalled() bool {
	return IsInstalled(m.cliPath)
}

func (m *Manager) run(q *worker.Queue, limit time.Duration, args ...string) {
	m.start(q, limit, append(args, "--format", "jsonmini"))
}

func (m *Manager) start(q *worker.Queue, limit time.Duration, args []string) {
	opts := []worker.Option{worker.WithTimeLimit(limit)}
	if m.recorder != nil {
		opts = append(opts, worker.WithRecorder(m.recorder))
	}
	task := worker.NewCLITask(m.gate, m.conn, m.cliPath, args, q, opts...)
	if err := task.Start(); err != nil {
		slog.Error("failed to start arduino-cli task", "args", args, "error", err)
	}
}

// runInstalled runs args only when the CLI is installed, otherwise it
// posts the not-installed error.
func (m *Manager) runInstalled(q *worker.Queue, args ...string) {
	if !m.IsInstalled() {
		slog.Debug("arduino-cli not installed", "path", m.cliPath)
		q.Put(models.NewMessage(models.StatusError, TopicNotInstalled, TopicNotInstalled))
		return
	}
	m.run(q, m.limits.Default, args...)
}

// GetVersion posts the CLI version.
func (m *Manager) GetVersion(q *worker.Queue) {
	m.runInstalled(q, "version")
}

// GetPlatforms posts the installed platforms.
func (m *Manager) GetPlatforms(q *worker.Queue) {
	m.runInstalled(q, "core", "list")
}

// GetLibraries posts the installed libraries.
func (m *Manager) GetLibraries(q *worker.Queue) {
	m.runInstalled(q, "lib", "list")
}

// InitialiseConfig writes a fresh CLI configuration that includes the
// board manager URLs of the extra platforms.
func (m *Manager) InitialiseConfig(q *worker.Queue) {
	args := []string{"config", "init", "--format", "jsonmini", "--overwrite"}
	if urls := AdditionalURLs(); urls != "" {
		args = append(args, "--additional-urls", urls)
	}
	m.start(q, m.limits.Default, args)
}

// UpdateIndex refreshes the core index.
func (m *Manager) UpdateIndex(q *worker.Queue) {
	m.run(q, m.limits.Default, "core", "update-index")
}

// InstallPackage installs a platform package such as "arduino:avr@1.8.6".
func (m *Manager) InstallPackage(pkg string, q *worker.Queue) {
	m.run(q, m.limits.InstallPackage, "core", "install", pkg)
}

// UpgradePlatforms upgrades every installed platform.
func (m *Manager) UpgradePlatforms(q *worker.Queue) {
	m.run(q, m.limits.Default, "core", "upgrade")
}

// InstallLibrary installs a library such as "Ethernet@2.0.2".
func (m *Manager) InstallLibrary(lib string, q *worker.Queue) {
	m.run(q, m.limits.Default, "lib", "install", lib)
}

// ListBoards posts the attached boards.
func (m *Manager) ListBoards(q *worker.Queue) {
	m.run(q, m.limits.ListBoards, "board", "list")
}

// CompileSketch compiles the sketch in dir for fqbn.
func (m *Manager) CompileSketch(fqbn, dir string, q *worker.Queue) {
	m.run(q, 0, "compile", "-b", fqbn, dir)
}

// UploadSketch uploads the sketch in dir to the device on port.
func (m *Manager) UploadSketch(fqbn, port, dir string, q *worker.Queue) {
	args := []string{"upload", "-v", "-t", "-b", fqbn, "-p", port, dir, "--format", "jsonmini"}
	if strings.HasPrefix(fqbn, "esp32:esp32") {
		args = append(args, "--board-options", "UploadSpeed=115200")
	}
	m.start(q, 0, args)
}
