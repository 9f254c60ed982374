package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/agent"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/attach"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/core"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
)

const helperEnv = "LEAKWATCH_LAUNCHER_HELPER"

// TestMain turns the test binary into a stand-in attach tool when
// helperEnv is set.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "echo":
		fmt.Println("agent started")
		fmt.Fprintln(os.Stderr, "on stderr")
		code, _ := strconv.Atoi(os.Getenv("LEAKWATCH_HELPER_CODE"))
		os.Exit(code)
	case "attach":
		os.Exit(helperAttach(os.Args[1:]))
	default:
		os.Exit(m.Run())
	}
}

func helperAttach(args []string) int {
	if len(args) != 3 || args[0] != AttachCommand {
		fmt.Printf("unexpected args %q\n", args)
		return 64
	}
	pid, err := attach.ParsePID(args[1])
	if err != nil {
		fmt.Println(err)
		return 64
	}
	resp, err := attach.Dial(context.Background(), attach.DefaultDir(), pid,
		attach.Request{Agent: "test-agent", Options: args[2], Session: os.Getenv(attach.EnvSession)})
	if err != nil {
		fmt.Println(err)
		return 1
	}
	fmt.Print(resp.Output)
	if !resp.OK {
		fmt.Println(resp.Error)
		return 1
	}
	return 0
}

type fakeStatus struct {
	active atomic.Bool
}

func (s *fakeStatus) IsActive() bool { return s.active.Load() }

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	env      [][]string
	output   string
	err      error
	during   func()
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *fakeRunner) Run(_ context.Context, argv, env []string) ([]byte, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, argv)
	r.env = append(r.env, env)
	r.mu.Unlock()

	if r.during != nil {
		r.during()
	}
	return []byte(r.output), r.err
}

func (r *fakeRunner) spawns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// recorder is a permissive interceptor used as the host's policy.
type recorder struct{ guard.Root }

func (recorder) CheckExit(int) error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withPolicy(t *testing.T, i guard.Interceptor) {
	t.Helper()
	guard.SetProcessPolicy(i)
	t.Cleanup(func() { guard.SetProcessPolicy(nil) })
}

func newTestLauncher(status StatusChecker, runner Runner, opts ...Option) *Launcher {
	opts = append([]Option{WithRuntime("/bin/sh"), WithPID(4321), WithSocketDir("/tmp/lw"), WithLogger(quietLogger())}, opts...)
	return New(status, runner, opts...)
}

func TestBuildCommand(t *testing.T) {
	assert.Equal(t, []string{"/usr/bin/leakwatch", "attach", "99", "threshold=5"},
		BuildCommand("/usr/bin/leakwatch", 99, "threshold=5"))
	assert.Equal(t, []string{"/usr/bin/leakwatch", "attach", "99", "-"},
		BuildCommand("/usr/bin/leakwatch", 99, ""))
}

func TestResolveRuntime(t *testing.T) {
	self, err := ResolveRuntime("")
	require.NoError(t, err)
	assert.FileExists(t, self)

	sh, err := ResolveRuntime("sh")
	if err == nil {
		assert.True(t, len(sh) > 0 && sh[0] == '/')
	}

	_, err = ResolveRuntime("leakwatch-no-such-runtime")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestActivate_CapturesOutputVerbatim(t *testing.T) {
	runner := &fakeRunner{output: "agent started\n"}
	l := newTestLauncher(&fakeStatus{}, runner)

	res, err := l.Activate(context.Background(), "threshold=5")

	require.NoError(t, err)
	assert.False(t, res.AlreadyActive)
	assert.Equal(t, "agent started\n", res.Output)
	require.Equal(t, 1, runner.spawns())
	assert.Equal(t, []string{"/bin/sh", "attach", "4321", "threshold=5"}, runner.calls[0])
	require.Len(t, runner.env[0], 2)
	assert.Equal(t, attach.EnvSocketDir+"=/tmp/lw", runner.env[0][0])
	assert.True(t, strings.HasPrefix(runner.env[0][1], attach.EnvSession+"="+attach.LaunchSessionPrefix))
}

func TestActivate_EmptyOptionsUsePlaceholder(t *testing.T) {
	runner := &fakeRunner{}
	l := newTestLauncher(&fakeStatus{}, runner)

	_, err := l.Activate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, NoOptions, runner.calls[0][3])
}

func TestActivate_AlreadyActiveSpawnsNothing(t *testing.T) {
	status := &fakeStatus{}
	status.active.Store(true)
	runner := &fakeRunner{}
	l := newTestLauncher(status, runner)

	res, err := l.Activate(context.Background(), "")

	require.NoError(t, err)
	assert.True(t, res.AlreadyActive)
	assert.Empty(t, res.Output)
	assert.Zero(t, runner.spawns())
}

func TestActivate_ExitIsRefusedDuringLaunch(t *testing.T) {
	var exitErr error
	runner := &fakeRunner{during: func() { exitErr = guard.Exit(3) }}
	l := newTestLauncher(&fakeStatus{}, runner)

	_, err := l.Activate(context.Background(), "")

	require.NoError(t, err)
	var blocked *guard.ExitBlockedError
	require.ErrorAs(t, exitErr, &blocked)
	assert.Equal(t, 3, blocked.Code)
}

func TestActivate_RestoresInterceptor(t *testing.T) {
	tests := []struct {
		name   string
		policy guard.Interceptor
		runner *fakeRunner
	}{
		{name: "none active, success", runner: &fakeRunner{output: "ok"}},
		{name: "none active, spawn failure", runner: &fakeRunner{err: &diagnostics.StartError{Path: "/x", Err: os.ErrNotExist}}},
		{name: "policy active, success", policy: recorder{}, runner: &fakeRunner{output: "ok"}},
		{name: "policy active, abnormal exit", policy: recorder{}, runner: &fakeRunner{err: errors.New("exit status 1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withPolicy(t, tt.policy)

			var during guard.Interceptor
			tt.runner.during = func() { during = guard.Active() }
			l := newTestLauncher(&fakeStatus{}, tt.runner)

			_, _ = l.Activate(context.Background(), "")

			if tt.policy == nil {
				assert.Nil(t, guard.Active())
				assert.IsType(t, guard.Root{}, during)
			} else {
				assert.Equal(t, tt.policy, guard.Active())
				require.IsType(t, &guard.Delegate{}, during)
				assert.Equal(t, tt.policy, during.(*guard.Delegate).Previous())
			}
		})
	}
}

func TestActivate_SpawnFailureIsFatal(t *testing.T) {
	runner := &fakeRunner{output: "", err: &diagnostics.StartError{Path: "/bin/sh", Err: os.ErrNotExist}}
	l := newTestLauncher(&fakeStatus{}, runner)

	_, err := l.Activate(context.Background(), "")

	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatExecution))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestActivate_AbnormalExitReturnsOutput(t *testing.T) {
	runner := &fakeRunner{output: "unknown option \"x\"\n", err: errors.New("exit status 2")}
	l := newTestLauncher(&fakeStatus{}, runner)

	res, err := l.Activate(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "unknown option \"x\"\n", res.Output)
}

func TestActivate_InvalidUTF8IsReplaced(t *testing.T) {
	runner := &fakeRunner{output: "ok \xff\n"}
	l := newTestLauncher(&fakeStatus{}, runner)

	res, err := l.Activate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "ok \uFFFD\n", res.Output)
}

func TestActivate_ExecDeniedByPolicy(t *testing.T) {
	withPolicy(t, guard.NewPolicy(guard.PolicyConfig{AllowExec: []string{"leakwatch"}}))
	runner := &fakeRunner{}
	l := newTestLauncher(&fakeStatus{}, runner)

	_, err := l.Activate(context.Background(), "")

	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatForbidden))
	assert.ErrorIs(t, err, guard.ErrPermissionDenied)
	assert.Zero(t, runner.spawns())
}

func TestActivate_ConcurrentLaunchesDoNotInterleave(t *testing.T) {
	policy := recorder{}
	withPolicy(t, policy)

	var wrongPredecessor atomic.Int32
	runner := &fakeRunner{output: "agent started\n"}
	runner.during = func() {
		d, ok := guard.Active().(*guard.Delegate)
		if !ok || d.Previous() != guard.Interceptor(policy) {
			wrongPredecessor.Add(1)
		}
		time.Sleep(time.Millisecond)
	}
	l := newTestLauncher(&fakeStatus{}, runner)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Activate(context.Background(), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), runner.maxSeen.Load())
	assert.Zero(t, wrongPredecessor.Load())
	assert.Equal(t, 16, runner.spawns())
	assert.Equal(t, guard.Interceptor(policy), guard.Active())
}

func TestActivate_RecheckInsideLock(t *testing.T) {
	status := &fakeStatus{}
	release := make(chan struct{})
	runner := &fakeRunner{during: func() {
		<-release
		status.active.Store(true)
	}}
	l := newTestLauncher(status, runner)

	first := make(chan Result, 1)
	go func() {
		res, _ := l.Activate(context.Background(), "")
		first <- res
	}()
	require.Eventually(t, func() bool { return runner.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() {
		res, _ := l.Activate(context.Background(), "")
		second <- res
	}()
	close(release)

	assert.False(t, (<-first).AlreadyActive)
	assert.True(t, (<-second).AlreadyActive)
	assert.Equal(t, 1, runner.spawns())
}

func TestActivate_ContextCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{during: func() { <-release }}
	l := newTestLauncher(&fakeStatus{}, runner)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = l.Activate(context.Background(), "")
	}()
	require.Eventually(t, func() bool { return runner.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Activate(ctx, "")
	close(release)
	<-firstDone

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, runner.spawns())
}

func TestExecRunner_MergesStreams(t *testing.T) {
	t.Setenv(helperEnv, "echo")
	t.Setenv("LEAKWATCH_HELPER_CODE", "0")
	r := NewExecRunner(nil, 0)

	out, err := r.Run(context.Background(), []string{os.Args[0]}, nil)

	require.NoError(t, err)
	assert.Contains(t, string(out), "agent started\n")
	assert.Contains(t, string(out), "on stderr\n")
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	t.Setenv(helperEnv, "echo")
	t.Setenv("LEAKWATCH_HELPER_CODE", "2")
	r := NewExecRunner(nil, 0)

	out, err := r.Run(context.Background(), []string{os.Args[0]}, nil)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, string(out), "agent started\n")
}

func TestExecRunner_StartFailure(t *testing.T) {
	r := NewExecRunner(nil, 0)

	_, err := r.Run(context.Background(), []string{"/nonexistent/leakwatch"}, nil)

	var startErr *diagnostics.StartError
	assert.ErrorAs(t, err, &startErr)

	_, err = r.Run(context.Background(), nil, nil)
	assert.ErrorAs(t, err, &startErr)
}

func startAttachListener(t *testing.T, dir string, reg *agent.Registry, sessions *attach.Sessions) {
	t.Helper()
	ln := attach.NewListener(attach.ListenerConfig{Dir: dir, Registry: reg, Sessions: sessions, Logger: quietLogger()})
	require.NoError(t, ln.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- ln.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	// Sanity check that the socket is reachable before launching.
	conn, err := net.Dial("unix", ln.Path())
	require.NoError(t, err)
	_ = conn.Close()
}

// TestActivate_EndToEnd runs the real attach round trip: the launcher spawns
// this test binary as the attach tool, which connects back over the attach
// socket; the agent entry point tries to exit the process and is refused.
func TestActivate_EndToEnd(t *testing.T) {
	dir, err := os.MkdirTemp("", "lw")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterEntryPoint("test-agent", func(opts string, out io.Writer) error {
		if opts == NoOptions {
			_, _ = fmt.Fprintln(out, "agent started")
			return nil
		}
		_, _ = fmt.Fprintf(out, "bad options %q\n", opts)
		return guard.Exit(2)
	}))

	sessions := attach.NewSessions()
	startAttachListener(t, dir, reg, sessions)

	t.Setenv(helperEnv, "attach")
	l := New(&fakeStatus{}, NewExecRunner(nil, time.Second),
		WithRuntime(os.Args[0]), WithSocketDir(dir), WithSessions(sessions), WithLogger(quietLogger()))

	res, err := l.Activate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "agent started\n", res.Output)

	res, err = l.Activate(context.Background(), "bogus")
	require.NoError(t, err)
	assert.Contains(t, res.Output, `bad options "bogus"`)
	assert.Contains(t, res.Output, "tried to exit with 2 return code")
	assert.Nil(t, guard.Active())
}

// TestActivate_GuardOutlivesCancelledLaunch cancels the launch while the
// agent's entry point is still running in the host. The attach tool is
// killed, but the guard must stay installed until the entry point returns.
func TestActivate_GuardOutlivesCancelledLaunch(t *testing.T) {
	dir, err := os.MkdirTemp("", "lw")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	started := make(chan struct{})
	finished := make(chan struct{})
	var (
		during  guard.Interceptor
		exitErr error
	)
	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterEntryPoint("test-agent", func(_ string, out io.Writer) error {
		defer close(finished)
		close(started)
		// Outlive the cancelled attach tool.
		time.Sleep(300 * time.Millisecond)
		during = guard.Active()
		if during == nil {
			// Exiting here would take the test binary down.
			return nil
		}
		exitErr = guard.Exit(2)
		return exitErr
	}))

	sessions := attach.NewSessions()
	startAttachListener(t, dir, reg, sessions)

	t.Setenv(helperEnv, "attach")
	l := New(&fakeStatus{}, NewExecRunner(nil, 100*time.Millisecond),
		WithRuntime(os.Args[0]), WithSocketDir(dir), WithSessions(sessions), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	_, err = l.Activate(ctx, "")
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-finished:
	default:
		t.Fatal("Activate returned while the entry point was still running")
	}
	require.NotNil(t, during, "entry point ran without an exit guard")
	var blocked *guard.ExitBlockedError
	require.ErrorAs(t, exitErr, &blocked)
	assert.Equal(t, 2, blocked.Code)
	assert.Nil(t, guard.Active())
}
