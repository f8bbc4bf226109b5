//go:build !unix

package signer

import "os/exec"

// killGroupOnCancel is a no-op where process groups are unavailable.
// WaitDelay still unblocks Wait once the direct child is killed.
func killGroupOnCancel(cmd *exec.Cmd) {}
