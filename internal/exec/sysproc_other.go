//go:build !linux

package exec

import "os/exec"

// killAfterParent is a no-op where the platform offers no parent-death
// signal. Orphans are cleaned up by reaping instead.
func killAfterParent(*exec.Cmd) {}
