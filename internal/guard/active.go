package guard

import (
	"context"
	"os"
	"sync/atomic"
)

type slot struct {
	interceptor Interceptor
}

var (
	// active holds the process-wide interceptor; nil when none is installed.
	active atomic.Pointer[slot]

	// launchSem is the single process-wide lock around install/restore.
	// A channel rather than a mutex so waiters can give up on ctx.
	launchSem = make(chan struct{}, 1)

	exitFunc = os.Exit
)

// Active returns the currently installed interceptor, or nil if none is.
func Active() Interceptor {
	if s := active.Load(); s != nil {
		return s.interceptor
	}
	return nil
}

func install(i Interceptor) {
	if i == nil {
		active.Store(nil)
		return
	}
	active.Store(&slot{interceptor: i})
}

// SetProcessPolicy installs the host's own interceptor. It is meant to be
// called once during startup, before any guarded section runs; it waits for
// any in-flight guarded section so it never races a restore.
func SetProcessPolicy(i Interceptor) {
	launchSem <- struct{}{}
	defer func() { <-launchSem }()
	install(i)
}

// WithExitGuard runs fn with process exit refused. It acquires the
// process-wide launch lock, installs Root when no interceptor is active or a
// Delegate wrapping the active one otherwise, and restores the previous
// interceptor when fn returns or panics.
//
// Only one guarded section runs at a time. WithExitGuard is not reentrant:
// calling it from inside fn deadlocks until ctx is done.
func WithExitGuard(ctx context.Context, fn func() error) error {
	select {
	case launchSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-launchSem }()

	prev := Active()
	if prev == nil {
		install(Root{})
	} else {
		install(NewDelegate(prev))
	}
	defer install(prev)

	return fn()
}

// Exit terminates the process with code unless the active interceptor
// refuses, in which case the refusal is returned and the process keeps
// running.
func Exit(code int) error {
	if i := Active(); i != nil {
		if err := i.CheckExit(code); err != nil {
			return err
		}
	}
	exitFunc(code)
	return nil
}

func check(fn func(Interceptor) error) error {
	i := Active()
	if i == nil {
		return nil
	}
	return fn(i)
}

// CheckPermission consults the active interceptor; permitted when none is active.
func CheckPermission(perm Permission) error {
	return check(func(i Interceptor) error { return i.CheckPermission(perm) })
}

// CheckRead consults the active interceptor before reading name.
func CheckRead(name string) error {
	return check(func(i Interceptor) error { return i.CheckRead(name) })
}

// CheckWrite consults the active interceptor before writing name.
func CheckWrite(name string) error {
	return check(func(i Interceptor) error { return i.CheckWrite(name) })
}

// CheckDelete consults the active interceptor before removing name.
func CheckDelete(name string) error {
	return check(func(i Interceptor) error { return i.CheckDelete(name) })
}

// CheckExec consults the active interceptor before running cmd.
func CheckExec(cmd string) error {
	return check(func(i Interceptor) error { return i.CheckExec(cmd) })
}

// CheckListen consults the active interceptor before listening on port.
// Unix sockets use port 0.
func CheckListen(port int) error {
	return check(func(i Interceptor) error { return i.CheckListen(port) })
}

// CheckAccept consults the active interceptor before serving a connection.
func CheckAccept(host string, port int) error {
	return check(func(i Interceptor) error { return i.CheckAccept(host, port) })
}
