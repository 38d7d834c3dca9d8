//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// shellCommand wraps a command string for the system shell.
func shellCommand(command string) *exec.Cmd {
	// #nosec G204 -- command templates are operator-configured, not user input
	return exec.Command("/bin/sh", "-c", command)
}

// setProcessGroup places the child in its own process group so the whole
// tree can be signaled on timeout.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the child's process group. A negative pid
// addresses the group, not just the direct child.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
