package attach

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

const defaultDialTimeout = 30 * time.Second

// Dial sends req to the attach socket of pid under dir and waits for the
// response. A missing Session is filled with a fresh id.
func Dial(ctx context.Context, dir string, pid int, req Request) (*Response, error) {
	if req.Session == "" {
		req.Session = uuid.NewString()
	}

	path := SocketPath(dir, pid)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to process %d at %s: %w", pid, path, err)
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDialTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if err := encode(conn, req); err != nil {
		return nil, fmt.Errorf("sending attach request: %w", err)
	}

	var resp Response
	if err := decode(conn, &resp); err != nil {
		return nil, fmt.Errorf("reading attach response: %w", err)
	}
	return &resp, nil
}
