//go:build !unix && !windows

package sync

import "os/exec"

func detach(cmd *exec.Cmd) {}
