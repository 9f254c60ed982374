package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// EnvSocketDir names the environment variable that tells an attach client
// where the host's socket lives.
const EnvSocketDir = "LEAKWATCH_ATTACH_DIR"

const socketPrefix = ".leakwatch_pid"

// Request asks the host to run an agent's entry point.
type Request struct {
	Agent   string `cbor:"agent"`
	Options string `cbor:"options"`
	Session string `cbor:"session,omitempty"`
}

// Response reports the outcome of a Request. Output is everything the
// entry point printed, present even when it failed.
type Response struct {
	OK     bool   `cbor:"ok"`
	Output string `cbor:"output,omitempty"`
	Error  string `cbor:"error,omitempty"`
	// ExitBlocked is set when the agent tried to terminate the host and
	// the active interceptor refused; ExitCode is the code it asked for.
	ExitBlocked bool `cbor:"exit_blocked,omitempty"`
	ExitCode    int  `cbor:"exit_code,omitempty"`
}

// SocketPath returns the attach socket path of pid under dir.
func SocketPath(dir string, pid int) string {
	return filepath.Join(dir, socketPrefix+strconv.Itoa(pid))
}

// DefaultDir is the socket directory from EnvSocketDir, or the system
// temporary directory.
func DefaultDir() string {
	if dir := os.Getenv(EnvSocketDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

// ParsePID validates a pid argument.
func ParsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}
