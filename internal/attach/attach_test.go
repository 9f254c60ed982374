package attach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/agent"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
)

// shortTempDir keeps socket paths under the sun_path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lw")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startListener(t *testing.T, cfg ListenerConfig) *Listener {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = shortTempDir(t)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l := NewListener(cfg)
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return l
}

func TestSocketPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/run/lw", ".leakwatch_pid42"), SocketPath("/run/lw", 42))
}

func TestDefaultDir(t *testing.T) {
	t.Setenv(EnvSocketDir, "/var/run/leakwatch")
	assert.Equal(t, "/var/run/leakwatch", DefaultDir())

	t.Setenv(EnvSocketDir, "")
	assert.Equal(t, os.TempDir(), DefaultDir())
}

func TestParsePID(t *testing.T) {
	pid, err := ParsePID("1234")
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	for _, bad := range []string{"", "abc", "0", "-5"} {
		_, err := ParsePID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCodec_Deterministic(t *testing.T) {
	req := Request{Agent: "file-leak-detector", Options: "-", Session: "s"}

	var a, b bytes.Buffer
	require.NoError(t, encode(&a, req))
	require.NoError(t, encode(&b, req))
	assert.Equal(t, a.Bytes(), b.Bytes())

	var got Request
	require.NoError(t, decode(&a, &got))
	assert.Equal(t, req, got)
}

func TestListener_RunsEntryPoint(t *testing.T) {
	reg := agent.NewRegistry()
	var gotOpts string
	require.NoError(t, reg.RegisterEntryPoint("echo", func(opts string, out io.Writer) error {
		gotOpts = opts
		_, _ = fmt.Fprintln(out, "agent started")
		return nil
	}))
	l := startListener(t, ListenerConfig{Registry: reg, PID: 4242})

	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	resp, err := Dial(context.Background(), filepath.Dir(l.Path()), 4242, Request{Agent: "echo", Options: "threshold=5"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "agent started\n", resp.Output)
	assert.Equal(t, "threshold=5", gotOpts)
}

func TestListener_UnknownAgent(t *testing.T) {
	l := startListener(t, ListenerConfig{Registry: agent.NewRegistry(), PID: 7})

	resp, err := Dial(context.Background(), filepath.Dir(l.Path()), 7, Request{Agent: "missing"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, `agent "missing" not found`)
}

func TestListener_EntryPointErrorKeepsOutput(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterEntryPoint("fails", func(_ string, out io.Writer) error {
		_, _ = fmt.Fprint(out, "partial")
		return errors.New("bad options")
	}))
	l := startListener(t, ListenerConfig{Registry: reg, PID: 8})

	resp, err := Dial(context.Background(), filepath.Dir(l.Path()), 8, Request{Agent: "fails"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "partial", resp.Output)
	assert.Equal(t, "bad options", resp.Error)
	assert.False(t, resp.ExitBlocked)
}

func TestListener_ReportsBlockedExit(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterEntryPoint("exits", func(_ string, out io.Writer) error {
		_, _ = fmt.Fprint(out, "usage")
		return guard.Exit(2)
	}))
	l := startListener(t, ListenerConfig{Registry: reg, PID: 9})

	var resp *Response
	err := guard.WithExitGuard(context.Background(), func() error {
		var dialErr error
		resp, dialErr = Dial(context.Background(), filepath.Dir(l.Path()), 9, Request{Agent: "exits"})
		return dialErr
	})

	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.True(t, resp.ExitBlocked)
	assert.Equal(t, 2, resp.ExitCode)
	assert.Equal(t, "usage", resp.Output)
	assert.Contains(t, resp.Error, "tried to exit with 2 return code")
}

func TestListener_PanicWritesCrashDump(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterEntryPoint("panics", func(string, io.Writer) error {
		panic("agent bug")
	}))
	dumpDir := t.TempDir()
	dumps := diagnostics.NewCrashDumpWriter(dumpDir, 3, false, false, nil, nil)
	l := startListener(t, ListenerConfig{Registry: reg, PID: 10, Dumps: dumps})

	resp, err := Dial(context.Background(), filepath.Dir(l.Path()), 10, Request{Agent: "panics"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "agent bug")

	dump, err := diagnostics.LoadLatestCrashDump(dumpDir)
	require.NoError(t, err)
	assert.Equal(t, "panics", dump.Agent)
	assert.Equal(t, "attach", dump.Operation)
}

func TestListener_PanicWithoutDumpWriter(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterEntryPoint("panics", func(string, io.Writer) error {
		panic("agent bug")
	}))
	l := startListener(t, ListenerConfig{Registry: reg, PID: 11})

	resp, err := Dial(context.Background(), filepath.Dir(l.Path()), 11, Request{Agent: "panics"})
	require.NoError(t, err)
	assert.Equal(t, "panic: agent bug", resp.Error)
}

func TestListener_ReplacesStaleSocket(t *testing.T) {
	dir := shortTempDir(t)
	stale := SocketPath(dir, 12)
	require.NoError(t, os.WriteFile(stale, nil, 0o600))

	reg := agent.NewRegistry()
	require.NoError(t, reg.RegisterEntryPoint("ok", func(string, io.Writer) error { return nil }))
	startListener(t, ListenerConfig{Dir: dir, Registry: reg, PID: 12})

	resp, err := Dial(context.Background(), dir, 12, Request{Agent: "ok"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestListener_CloseRemovesSocket(t *testing.T) {
	l := NewListener(ListenerConfig{Dir: shortTempDir(t), PID: 13, Registry: agent.NewRegistry()})
	require.NoError(t, l.Listen())
	require.FileExists(t, l.Path())

	require.NoError(t, l.Close())
	assert.NoFileExists(t, l.Path())
	assert.NoError(t, l.Close(), "second close is a no-op")
}

func TestServe_NotStarted(t *testing.T) {
	l := NewListener(ListenerConfig{Dir: shortTempDir(t), PID: 14})
	assert.Error(t, l.Serve(context.Background()))
}

func TestDial_NoListener(t *testing.T) {
	_, err := Dial(context.Background(), shortTempDir(t), 15, Request{Agent: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to process 15")
}
