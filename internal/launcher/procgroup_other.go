//go:build windows

package launcher

import (
	"os/exec"
	"time"
)

func setProcGroup(cmd *exec.Cmd, waitDelay time.Duration) {
	cmd.WaitDelay = waitDelay
}
