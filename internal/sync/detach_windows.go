//go:build windows

package sync

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new process group (Windows)
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
