//go:build linux || darwin

package sandbox

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime/debug"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the worker in its own process group so a kill
// reaches anything it may have started.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the worker's process group
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return cmd.Process.Kill()
}

// applyLimits restricts the current (worker) process
func applyLimits(l Limits) error {
	if l.MemoryMB > 0 {
		debug.SetMemoryLimit(int64(l.MemoryMB) * BytesPerMB)
	}
	if l.CPUSeconds > 0 {
		limit := &unix.Rlimit{Cur: uint64(l.CPUSeconds), Max: uint64(l.CPUSeconds)}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, limit); err != nil {
			return fmt.Errorf("failed to set cpu limit: %w", err)
		}
	}
	return nil
}
