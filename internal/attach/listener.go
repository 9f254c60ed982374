package attach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/agent"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Dir      string
	PID      int
	Registry *agent.Registry
	Dumps    *diagnostics.CrashDumpWriter
	// Sessions admits requests from launcher-spawned attach tools. When set,
	// a launch session that is not open is refused.
	Sessions *Sessions
	Logger   *slog.Logger
	// Timeout is the connection deadline. An entry point that outlives it
	// still runs to completion; only its reply is lost.
	Timeout time.Duration
}

// Listener serves attach requests for the current process.
type Listener struct {
	cfg  ListenerConfig
	path string

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewListener creates a listener. Zero values default to DefaultDir, the
// current pid, agent.Default and a 30s timeout.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir()
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.Registry == nil {
		cfg.Registry = agent.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Listener{cfg: cfg, path: SocketPath(cfg.Dir, cfg.PID)}
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Listen creates the socket, replacing a stale one from an earlier run.
func (l *Listener) Listen() error {
	if err := guard.CheckListen(0); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("creating attach socket directory: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale attach socket: %w", err)
	}

	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("creating attach socket at %s: %w", l.path, err)
	}
	if err := os.Chmod(l.path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("setting attach socket permissions: %w", err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.cfg.Logger.Info("attach listener started", "socket", l.path)
	return nil
}

// Serve accepts connections until ctx is done, then closes the socket and
// waits for in-flight requests.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return errors.New("attach listener not started")
	}

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting attach connection: %w", err)
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(conn)
		}()
	}
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	_ = os.Remove(l.path)
	return err
}

func (l *Listener) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(l.cfg.Timeout))

	if err := guard.CheckAccept("unix", 0); err != nil {
		l.reply(conn, Response{Error: err.Error()})
		return
	}

	var req Request
	if err := decode(conn, &req); err != nil {
		l.reply(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	logger := l.cfg.Logger.With("agent", req.Agent, "session", req.Session)
	ep, ok := l.cfg.Registry.EntryPoint(req.Agent)
	if !ok {
		logger.Warn("attach request for unknown agent")
		l.reply(conn, Response{Error: fmt.Sprintf("agent %q not found (available: %s)",
			req.Agent, strings.Join(l.cfg.Registry.Names(), ", "))})
		return
	}

	if l.cfg.Sessions != nil && IsLaunchSession(req.Session) {
		done, ok := l.cfg.Sessions.Admit(req.Session)
		if !ok {
			logger.Warn("attach request for a closed launch")
			l.reply(conn, Response{Error: fmt.Sprintf("launch session %s is closed", req.Session)})
			return
		}
		defer done()
	}

	logger.Info("attach request", "options", req.Options)
	resp := l.run(req, ep)
	if resp.ExitBlocked {
		logger.Warn("agent exit blocked", "code", resp.ExitCode)
	}
	l.reply(conn, resp)
}

func (l *Listener) run(req Request, ep agent.EntryPoint) (resp Response) {
	var out bytes.Buffer

	err := func() (err error) {
		if l.cfg.Dumps == nil {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return ep(req.Options, &out)
		}
		defer l.cfg.Dumps.RecoverOperation(req.Agent, "attach", &err)
		return ep(req.Options, &out)
	}()

	resp.Output = out.String()
	if err == nil {
		resp.OK = true
		return resp
	}
	resp.Error = err.Error()

	var blocked *guard.ExitBlockedError
	if errors.As(err, &blocked) {
		resp.ExitBlocked = true
		resp.ExitCode = blocked.Code
	}
	return resp
}

func (l *Listener) reply(conn net.Conn, resp Response) {
	if err := encode(conn, resp); err != nil {
		l.cfg.Logger.Debug("writing attach response", "error", err)
	}
}
