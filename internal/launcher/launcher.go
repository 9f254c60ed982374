// Package launcher attaches the file leak detector to the running host.
//
// Activate runs the host binary's attach subcommand against the host's own
// pid. The attach tool asks the host, over the attach socket, to run the
// agent's entry point in-process; that entry point may try to exit the
// process, so the whole launch runs inside guard.WithExitGuard. Each launch
// opens an attach session, and the guard stays installed until every entry
// point run admitted under it has returned, even when the attach tool was
// killed or timed out first.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/attach"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/core"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
)

// NoOptions is passed in place of an empty option string so the agent can
// tell "no options" apart from an empty argument.
const NoOptions = "-"

// AttachCommand is the subcommand of the runtime that performs the attach.
const AttachCommand = "attach"

// StatusChecker reports whether the agent is attached.
type StatusChecker interface {
	IsActive() bool
}

// Result is the outcome of Activate.
type Result struct {
	AlreadyActive bool
	Output        string
}

// Launcher activates the agent. It is safe for concurrent use; launches are
// serialized process-wide.
type Launcher struct {
	status    StatusChecker
	runner    Runner
	runtime   string
	socketDir string
	pid       int
	sessions  *attach.Sessions
	logger    *slog.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithRuntime sets the executable to launch instead of the host binary.
func WithRuntime(path string) Option {
	return func(l *Launcher) { l.runtime = path }
}

// WithSocketDir sets the attach socket directory handed to the child.
func WithSocketDir(dir string) Option {
	return func(l *Launcher) { l.socketDir = dir }
}

// WithPID overrides the target pid.
func WithPID(pid int) Option {
	return func(l *Launcher) { l.pid = pid }
}

// WithSessions sets the session table shared with the attach listener.
func WithSessions(sessions *attach.Sessions) Option {
	return func(l *Launcher) { l.sessions = sessions }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a launcher.
func New(status StatusChecker, runner Runner, opts ...Option) *Launcher {
	l := &Launcher{
		status:    status,
		runner:    runner,
		socketDir: attach.DefaultDir(),
		pid:       os.Getpid(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BuildCommand returns the attach argv: runtime, the attach subcommand, the
// target pid and the options, with NoOptions standing in for empty options.
func BuildCommand(runtime string, pid int, opts string) []string {
	if opts == "" {
		opts = NoOptions
	}
	return []string{runtime, AttachCommand, strconv.Itoa(pid), opts}
}

// ResolveRuntime returns the absolute path of the host executable, or of
// override when set.
func ResolveRuntime(override string) (string, error) {
	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", core.ErrValidation(core.CodeRuntimeMissing, "runtime not found: "+override).WithCause(err)
		}
		return filepath.Abs(path)
	}

	path, err := os.Executable()
	if err != nil {
		return "", core.ErrExecution(core.CodeRuntimeMissing, "locating host executable").WithCause(err)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path, nil
}

// Activate attaches the agent unless it is already active and returns
// whatever the attach tool printed. A non-zero exit of the tool is not an
// error; only failing to start it is.
func (l *Launcher) Activate(ctx context.Context, opts string) (Result, error) {
	if l.status.IsActive() {
		return Result{AlreadyActive: true}, nil
	}

	launchID := uuid.NewString()
	logger := l.logger.With("launch_id", launchID)

	var res Result
	err := guard.WithExitGuard(ctx, func() error {
		// A launch that finished while we waited may have attached it.
		if l.status.IsActive() {
			res.AlreadyActive = true
			return nil
		}

		runtime, err := ResolveRuntime(l.runtime)
		if err != nil {
			return err
		}
		if err := guard.CheckExec(runtime); err != nil {
			return core.ErrForbidden(core.CodeExecDenied, "launching "+runtime).WithCause(err)
		}

		session := attach.LaunchSessionPrefix + launchID
		if l.sessions != nil {
			closeSession := l.sessions.Open(session)
			defer func() {
				closeSession()
				logger.Debug("launch session closed")
			}()
		}

		argv := BuildCommand(runtime, l.pid, opts)
		env := []string{
			attach.EnvSocketDir + "=" + l.socketDir,
			attach.EnvSession + "=" + session,
		}
		logger.Info("launching agent", "argv", argv)

		out, runErr := l.runner.Run(ctx, argv, env)
		res.Output = strings.ToValidUTF8(string(out), "\uFFFD")

		var startErr *diagnostics.StartError
		switch {
		case runErr == nil:
			logger.Info("agent launcher finished", "output_bytes", len(out))
		case errors.As(runErr, &startErr):
			return core.ErrExecution(core.CodeAgentSpawnFailed, "starting "+runtime).WithCause(runErr)
		case ctx.Err() != nil:
			return fmt.Errorf("agent launch cancelled: %w", ctx.Err())
		default:
			logger.Warn("agent launcher exited abnormally", "error", runErr, "output_bytes", len(out))
		}
		return nil
	})
	if err != nil {
		logger.Error("agent launch failed", "error", err)
		return Result{}, err
	}
	return res, nil
}
