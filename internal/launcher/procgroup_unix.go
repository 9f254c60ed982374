//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup puts cmd in its own process group so cancelling the launch
// kills anything the attach tool started as well.
func setProcGroup(cmd *exec.Cmd, waitDelay time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}
