package guard

import "net"

// Root is the exit guard installed when no interceptor was active. It has
// nothing to forward to, so it permits everything except process exit.
type Root struct{}

var _ Interceptor = Root{}

func (Root) CheckPermission(Permission) error { return nil }
func (Root) CheckRead(string) error { return nil }
func (Root) CheckWrite(string) error { return nil }
func (Root) CheckDelete(string) error { return nil }
func (Root) CheckExec(string) error { return nil }
func (Root) CheckLink(string) error { return nil }
func (Root) CheckConnect(string, int) error { return nil }
func (Root) CheckListen(int) error { return nil }
func (Root) CheckAccept(string, int) error { return nil }
func (Root) CheckMulticast(net.IP) error { return nil }
func (Root) CheckGoroutineAccess(uint64) error { return nil }
func (Root) CheckPropertyAccess(string) error { return nil }

// CheckExit always refuses.
func (Root) CheckExit(code int) error {
	return exitBlocked(code)
}
