package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithExitGuard_InstallsRootWhenNothingActive(t *testing.T) {
	resetActive(t)

	var inside Interceptor
	err := WithExitGuard(context.Background(), func() error {
		inside = Active()
		return nil
	})

	require.NoError(t, err)
	assert.IsType(t, Root{}, inside)
	assert.Nil(t, Active())
}

func TestWithExitGuard_WrapsActiveInterceptor(t *testing.T) {
	resetActive(t)
	host := &recordingInterceptor{}
	SetProcessPolicy(host)

	var inside Interceptor
	err := WithExitGuard(context.Background(), func() error {
		inside = Active()
		return nil
	})

	require.NoError(t, err)
	d, ok := inside.(*Delegate)
	require.True(t, ok, "expected a Delegate, got %T", inside)
	assert.Same(t, host, d.Previous())
	assert.Same(t, host, Active())
}

func TestWithExitGuard_RestoresOnError(t *testing.T) {
	resetActive(t)
	host := &recordingInterceptor{}
	SetProcessPolicy(host)
	spawnErr := errors.New("exec: no such file")

	err := WithExitGuard(context.Background(), func() error {
		return spawnErr
	})

	assert.Same(t, spawnErr, err)
	assert.Same(t, host, Active())
}

func TestWithExitGuard_RestoresOnPanic(t *testing.T) {
	resetActive(t)
	host := &recordingInterceptor{}
	SetProcessPolicy(host)

	assert.Panics(t, func() {
		_ = WithExitGuard(context.Background(), func() error {
			panic("boom")
		})
	})
	assert.Same(t, host, Active())

	// The lock was released too.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, WithExitGuard(ctx, func() error { return nil }))
}

func TestWithExitGuard_ExitRefusedInside(t *testing.T) {
	resetActive(t)
	SetProcessPolicy(NewPolicy(PolicyConfig{}))

	var exited atomic.Bool
	stubExit(t, func(int) { exited.Store(true) })

	err := WithExitGuard(context.Background(), func() error {
		return Exit(2)
	})

	assert.ErrorIs(t, err, ErrProcessExitBlocked)
	assert.False(t, exited.Load())
}

func TestExit_ProceedsWhenPermitted(t *testing.T) {
	resetActive(t)

	var code atomic.Int64
	code.Store(-100)
	stubExit(t, func(c int) { code.Store(int64(c)) })

	require.NoError(t, Exit(4))
	assert.Equal(t, int64(4), code.Load())

	SetProcessPolicy(NewPolicy(PolicyConfig{}))
	require.NoError(t, Exit(5))
	assert.Equal(t, int64(5), code.Load())
}

func TestWithExitGuard_ContextCancelledWhileWaiting(t *testing.T) {
	resetActive(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = WithExitGuard(context.Background(), func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := WithExitGuard(ctx, func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
	require.Eventually(t, func() bool { return Active() == nil }, time.Second, time.Millisecond)
}

func TestWithExitGuard_ConcurrentSectionsNeverInterleave(t *testing.T) {
	resetActive(t)
	host := &recordingInterceptor{}
	SetProcessPolicy(host)

	const workers = 32
	var (
		inFlight  atomic.Int32
		maxFlight atomic.Int32
		foreign   atomic.Int32
		wg        sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithExitGuard(context.Background(), func() error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					m := maxFlight.Load()
					if n <= m || maxFlight.CompareAndSwap(m, n) {
						break
					}
				}

				d, ok := Active().(*Delegate)
				if !ok || d.Previous() != Interceptor(host) {
					foreign.Add(1)
				}
				time.Sleep(time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxFlight.Load())
	assert.Zero(t, foreign.Load(), "a section observed an interceptor installed by another section")
	assert.Same(t, host, Active())
}

func TestPackageChecks_UseActiveInterceptor(t *testing.T) {
	resetActive(t)

	assert.NoError(t, CheckRead("/secret/key"))
	assert.NoError(t, CheckExec("/bin/sh"))

	SetProcessPolicy(NewPolicy(PolicyConfig{
		DenyRead:        []string{"/secret"},
		DenyWrite:       []string{"/etc"},
		AllowExec:       []string{"leakwatch"},
		DenyPermissions: []string{"agent.activate"},
	}))

	assert.ErrorIs(t, CheckRead("/secret/key"), ErrPermissionDenied)
	assert.ErrorIs(t, CheckWrite("/etc/passwd"), ErrPermissionDenied)
	assert.ErrorIs(t, CheckDelete("/etc/passwd"), ErrPermissionDenied)
	assert.ErrorIs(t, CheckExec("/bin/sh"), ErrPermissionDenied)
	assert.NoError(t, CheckExec("/usr/local/bin/leakwatch"))
	assert.ErrorIs(t, CheckPermission(Permission{Name: "agent.activate"}), ErrPermissionDenied)
	assert.NoError(t, CheckListen(0))
	assert.NoError(t, CheckAccept("unix", 0))

	// Inside a guarded section the same answers come back through the Delegate.
	err := WithExitGuard(context.Background(), func() error {
		assert.ErrorIs(t, CheckRead("/secret/key"), ErrPermissionDenied)
		assert.NoError(t, CheckRead("/tmp/x"))
		return nil
	})
	require.NoError(t, err)
}

func stubExit(t *testing.T, fn func(int)) {
	t.Helper()
	orig := exitFunc
	exitFunc = fn
	t.Cleanup(func() { exitFunc = orig })
}
