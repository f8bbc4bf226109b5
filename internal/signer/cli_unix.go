//go:build unix

package signer

import (
	"os/exec"
	"syscall"
)

// killGroupOnCancel runs the tool in its own process group and kills the
// whole group on context cancellation, so helpers the tool spawned do not
// outlive a timeout while holding the output pipes open.
func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
