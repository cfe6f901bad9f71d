//go:build !(linux || darwin)

package sandbox

import (
	"os/exec"
	"runtime/debug"
)

func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// applyLimits only sets the soft memory limit; cpu limits need rlimits
func applyLimits(l Limits) error {
	if l.MemoryMB > 0 {
		debug.SetMemoryLimit(int64(l.MemoryMB) * BytesPerMB)
	}
	return nil
}
