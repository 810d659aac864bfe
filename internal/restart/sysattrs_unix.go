//go:build !windows

package restart

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in a new session when detached,
// otherwise in its own process group so signals aimed at us do not reach it.
func configureSysProcAttr(cmd *exec.Cmd, detached bool) {
	attrs := &syscall.SysProcAttr{}
	if detached {
		attrs.Setsid = true
	} else {
		attrs.Setpgid = true
	}
	cmd.SysProcAttr = attrs
}
