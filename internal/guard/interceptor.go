package guard

import (
	"fmt"
	"net"
)

// Permission is a named privileged operation with optional actions, for
// checks that do not fit one of the resource-specific methods.
type Permission struct {
	Name    string
	Actions string
}

func (p Permission) String() string {
	if p.Actions == "" {
		return p.Name
	}
	return fmt.Sprintf("%s[%s]", p.Name, p.Actions)
}

// Interceptor is one link in the process-wide chain of privileged-operation
// guards. Every method returns nil when the operation is permitted.
type Interceptor interface {
	// CheckPermission checks a generic named permission.
	CheckPermission(perm Permission) error

	// File system access.
	CheckRead(name string) error
	CheckWrite(name string) error
	CheckDelete(name string) error

	// Process and library loading.
	CheckExec(cmd string) error
	CheckLink(lib string) error

	// Network access.
	CheckConnect(host string, port int) error
	CheckListen(port int) error
	CheckAccept(host string, port int) error
	CheckMulticast(group net.IP) error

	// Runtime state.
	CheckGoroutineAccess(id uint64) error
	CheckPropertyAccess(key string) error

	// CheckExit checks whether the process may terminate with code.
	CheckExit(code int) error
}
