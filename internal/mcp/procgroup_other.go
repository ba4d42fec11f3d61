//go:build !unix

// File: internal/mcp/procgroup_other.go
package mcp

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup falls back to the direct child; there is no group to address.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return proc.Kill()
	}
	return proc.Signal(sig)
}
