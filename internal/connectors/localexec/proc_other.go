//go:build !windows

package localexec

import (
	"os/exec"
	"syscall"
)

// configureProc starts the Arduino CLI in its own process group so a
// cancelled context kills the compilers and uploaders it spawned as well.
func configureProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
