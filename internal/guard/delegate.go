package guard

import "net"

// Delegate is the exit guard installed over an already active interceptor.
// It forwards every check to the previous interceptor unchanged, except
// CheckExit, which it always refuses regardless of what the previous
// interceptor would decide.
//
// The previous interceptor is borrowed: Delegate never replaces or releases
// it.
type Delegate struct {
	prev Interceptor
}

var _ Interceptor = (*Delegate)(nil)

// NewDelegate wraps prev. It panics with ErrNoPredecessor if prev is nil;
// callers with nothing to wrap must use Root.
func NewDelegate(prev Interceptor) *Delegate {
	if prev == nil {
		panic(ErrNoPredecessor)
	}
	return &Delegate{prev: prev}
}

// Previous returns the wrapped interceptor.
func (d *Delegate) Previous() Interceptor {
	return d.prev
}

func (d *Delegate) CheckPermission(perm Permission) error {
	return d.prev.CheckPermission(perm)
}

func (d *Delegate) CheckRead(name string) error {
	return d.prev.CheckRead(name)
}

func (d *Delegate) CheckWrite(name string) error {
	return d.prev.CheckWrite(name)
}

func (d *Delegate) CheckDelete(name string) error {
	return d.prev.CheckDelete(name)
}

func (d *Delegate) CheckExec(cmd string) error {
	return d.prev.CheckExec(cmd)
}

func (d *Delegate) CheckLink(lib string) error {
	return d.prev.CheckLink(lib)
}

func (d *Delegate) CheckConnect(host string, port int) error {
	return d.prev.CheckConnect(host, port)
}

func (d *Delegate) CheckListen(port int) error {
	return d.prev.CheckListen(port)
}

func (d *Delegate) CheckAccept(host string, port int) error {
	return d.prev.CheckAccept(host, port)
}

func (d *Delegate) CheckMulticast(group net.IP) error {
	return d.prev.CheckMulticast(group)
}

func (d *Delegate) CheckGoroutineAccess(id uint64) error {
	return d.prev.CheckGoroutineAccess(id)
}

func (d *Delegate) CheckPropertyAccess(key string) error {
	return d.prev.CheckPropertyAccess(key)
}

// CheckExit always refuses. The previous interceptor is not consulted.
func (d *Delegate) CheckExit(code int) error {
	return exitBlocked(code)
}
