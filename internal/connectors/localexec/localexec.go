// Package localexec runs the Arduino CLI as a local subprocess.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dcc-ex/exinstaller/internal/connectors"
)

// allowedSubcommands is the allowlist of Arduino CLI subcommands the
// installer invokes.
var allowedSubcommands = map[string]bool{
	"version": true,
	"config":  true,
	"core":    true,
	"lib":     true,
	"board":   true,
	"compile": true,
	"upload":  true,
}

// waitDelay bounds how long a cancelled command may hold its output pipes
// open after it was killed.
const waitDelay = 2 * time.Second

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
}

// New creates a new LocalExec connector.
func New(workDir string) *LocalExec {
	return &LocalExec{workDir: workDir}
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks the Arduino CLI subcommand (the first argument) against
// the allowlist. The executable itself is a path chosen by the installer.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	if cmd == "" || len(args) == 0 {
		return false
	}
	return allowedSubcommands[args[0]]
}

// Execute runs a command if it's in the allowlist.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}
	return l.run(ctx, cmd, args)
}

func (l *LocalExec) run(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}
	configureProc(execCmd)
	execCmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	err := execCmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}, nil
}
