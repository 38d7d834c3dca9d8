//go:build windows

package executor

import (
	"fmt"
	"os/exec"
	"strconv"
)

// shellCommand wraps a command string for the system shell.
func shellCommand(command string) *exec.Cmd {
	// #nosec G204 -- command templates are operator-configured, not user input
	return exec.Command("cmd", "/C", command)
}

func setProcessGroup(cmd *exec.Cmd) {
	// Process creation flags are left at defaults; taskkill /T handles the
	// tree on teardown.
}

// killProcessGroup kills the child and its descendants via taskkill.
func killProcessGroup(pid int) error {
	out, err := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill pid %d: %w (%s)", pid, err, out)
	}
	return nil
}
