//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr hides the console window of spawned tools.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
