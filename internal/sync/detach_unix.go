//go:build unix

package sync

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so a Ctrl+C in the
// parent's terminal does not reach it
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group
		Pgid:    0,
	}
}
