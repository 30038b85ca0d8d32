//go:build unix

package pipeline

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child as leader of its own process group so a
// timeout or cancel kills everything it spawned, not just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
