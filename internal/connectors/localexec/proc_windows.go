//go:build windows

package localexec

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureProc stops the Arduino CLI from opening a console window.
func configureProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}
