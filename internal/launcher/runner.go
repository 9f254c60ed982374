package launcher

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
)

// Runner runs the attach command and returns its combined output. A
// *diagnostics.StartError means the process never started; any other error
// is reported alongside whatever output was captured.
type Runner interface {
	Run(ctx context.Context, argv []string, env []string) ([]byte, error)
}

// ExecRunner runs the command as a real subprocess.
type ExecRunner struct {
	executor  *diagnostics.SafeExecutor
	waitDelay time.Duration
}

// NewExecRunner creates a runner. A nil executor runs without preflight
// checks or crash dumps.
func NewExecRunner(executor *diagnostics.SafeExecutor, waitDelay time.Duration) *ExecRunner {
	if executor == nil {
		executor = diagnostics.NewSafeExecutor(nil, nil, nil, false, 0)
	}
	if waitDelay <= 0 {
		waitDelay = 3 * time.Second
	}
	return &ExecRunner{executor: executor, waitDelay: waitDelay}
}

// Run starts argv with env appended to the host environment, stdin closed
// and stderr merged into stdout.
func (r *ExecRunner) Run(ctx context.Context, argv []string, env []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, &diagnostics.StartError{Err: errors.New("empty command")}
	}

	// #nosec G204 -- argv is built by BuildCommand from the resolved runtime
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	setProcGroup(cmd, r.waitDelay)

	return r.executor.RunCombined(cmd)
}
