package exec

import (
	"os/exec"
	"syscall"
)

// killAfterParent asks the kernel to kill the child if this process dies,
// so a crashed bridge never leaves browsers running.
func killAfterParent(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
