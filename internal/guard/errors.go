package guard

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessExitBlocked is matched by every ExitBlockedError.
	ErrProcessExitBlocked = errors.New("process exit blocked")

	// ErrNoPredecessor is the panic value of NewDelegate when called
	// without a previous interceptor.
	ErrNoPredecessor = errors.New("guard: delegate requires a previous interceptor")

	// ErrPermissionDenied is matched by every PermissionDeniedError.
	ErrPermissionDenied = errors.New("permission denied")
)

// ExitBlockedError is returned by CheckExit on Root and Delegate. It records
// which goroutine asked to terminate the process and with what code.
type ExitBlockedError struct {
	Goroutine uint64
	Code      int
}

func (e *ExitBlockedError) Error() string {
	return fmt.Sprintf("goroutine %d tried to exit with %d return code", e.Goroutine, e.Code)
}

// Is reports whether target is ErrProcessExitBlocked.
func (e *ExitBlockedError) Is(target error) bool {
	return target == ErrProcessExitBlocked
}

func exitBlocked(code int) error {
	return &ExitBlockedError{Goroutine: goroutineID(), Code: code}
}

// PermissionDeniedError is returned by Policy when an operation is refused.
type PermissionDeniedError struct {
	Operation string
	Target    string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Operation, e.Target)
}

// Is reports whether target is ErrPermissionDenied.
func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}
