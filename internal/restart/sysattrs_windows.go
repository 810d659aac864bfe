//go:build windows

package restart

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureSysProcAttr starts the child in a new process group, without
// inheriting our console when detached.
func configureSysProcAttr(cmd *exec.Cmd, detached bool) {
	flags := uint32(windows.CREATE_NEW_PROCESS_GROUP)
	if detached {
		flags |= windows.DETACHED_PROCESS
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}
