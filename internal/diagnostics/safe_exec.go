package diagnostics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PreflightResult contains the result of pre-spawn checks.
type PreflightResult struct {
	OK       bool
	Warnings []string
	Errors   []string
	Snapshot ResourceSnapshot
}

// StartError reports that a subprocess could not be started at all, as
// opposed to one that ran and exited unsuccessfully.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// SafeExecutor wraps subprocess execution with resource checks, guaranteed
// pipe cleanup and crash dump recovery.
type SafeExecutor struct {
	monitor          *ResourceMonitor
	dumpWriter       *CrashDumpWriter
	logger           *slog.Logger
	preflightEnabled bool
	minFreeFDPercent int
}

// NewSafeExecutor creates a safe executor. monitor and dumpWriter may be nil.
func NewSafeExecutor(
	monitor *ResourceMonitor,
	dumpWriter *CrashDumpWriter,
	logger *slog.Logger,
	preflightEnabled bool,
	minFreeFDPercent int,
) *SafeExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeExecutor{
		monitor:          monitor,
		dumpWriter:       dumpWriter,
		logger:           logger,
		preflightEnabled: preflightEnabled,
		minFreeFDPercent: minFreeFDPercent,
	}
}

// RunPreflight checks that the host has descriptors to spare before spawning.
func (e *SafeExecutor) RunPreflight() PreflightResult {
	result := PreflightResult{OK: true}

	if !e.preflightEnabled || e.monitor == nil {
		return result
	}

	result.Snapshot = e.monitor.TakeSnapshot()

	// A spawn costs at least three descriptors on the host side.
	if result.Snapshot.MaxFDs > 0 {
		freeFDPercent := 100.0 - result.Snapshot.FDUsagePercent
		if e.minFreeFDPercent > 0 && freeFDPercent < float64(e.minFreeFDPercent) {
			result.OK = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("insufficient free FDs: %.1f%% free (minimum: %d%%)",
					freeFDPercent, e.minFreeFDPercent))
		} else if e.minFreeFDPercent > 0 && freeFDPercent < float64(e.minFreeFDPercent)*1.5 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("FD usage approaching limit: %.1f%% free", freeFDPercent))
		}
	}

	if trend := e.monitor.GetTrend(); !trend.IsHealthy {
		result.Warnings = append(result.Warnings, trend.Warnings...)
	}

	return result
}

// PipeSet holds the pipes of a prepared command and their cleanup.
type PipeSet struct {
	// Output carries stdout and stderr interleaved as the child wrote them.
	Output  io.ReadCloser
	Stdin   io.WriteCloser
	cleanup func()
	cleaned bool
}

// Cleanup closes the pipes and releases the active command slot.
// Safe to call multiple times.
func (p *PipeSet) Cleanup() {
	if p.cleaned {
		return
	}
	p.cleaned = true
	if p.cleanup != nil {
		p.cleanup()
	}
}

// PrepareCombined sets up cmd so that stderr is merged into stdout and
// stdin is a pipe the caller closes right after Start. The returned PipeSet
// must be cleaned up even if Start fails.
func (e *SafeExecutor) PrepareCombined(cmd *exec.Cmd) (*PipeSet, error) {
	if e.monitor != nil {
		e.monitor.IncrementCommandCount()
	}
	release := func() {
		if e.monitor != nil {
			e.monitor.DecrementActiveCommands()
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		release()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	output, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		release()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	// Same writer for both streams: exec hands the child one descriptor.
	cmd.Stderr = cmd.Stdout

	return &PipeSet{
		Output: output,
		Stdin:  stdin,
		cleanup: func() {
			// After Start+Wait these are already closed by exec; after a
			// failed Start they are not.
			_ = stdin.Close()
			_ = output.Close()
			release()
		},
	}, nil
}

// RunCombined starts cmd, closes its stdin, drains its merged output and
// waits for it. A *StartError means the process never ran. An
// *exec.ExitError means it ran and failed; the output is still returned.
func (e *SafeExecutor) RunCombined(cmd *exec.Cmd) (output []byte, err error) {
	pre := e.RunPreflight()
	for _, w := range pre.Warnings {
		e.logger.Warn("preflight warning", "command", cmd.Path, "warning", w)
	}
	if !pre.OK {
		return nil, &StartError{Path: cmd.Path, Err: errors.New(strings.Join(pre.Errors, "; "))}
	}

	pipes, err := e.PrepareCombined(cmd)
	if err != nil {
		return nil, &StartError{Path: cmd.Path, Err: err}
	}
	defer pipes.Cleanup()

	if e.dumpWriter != nil {
		e.dumpWriter.SetCurrentCommand(&CommandContext{
			Path:    cmd.Path,
			Args:    cmd.Args,
			WorkDir: cmd.Dir,
			Started: time.Now(),
		})
		defer e.dumpWriter.ClearCurrentCommand()
	}

	err = e.WrapExecution(func() error {
		if startErr := cmd.Start(); startErr != nil {
			return &StartError{Path: cmd.Path, Err: startErr}
		}
		// Nothing is ever written to the child.
		_ = pipes.Stdin.Close()

		var buf bytes.Buffer
		_, copyErr := io.Copy(&buf, pipes.Output)
		waitErr := cmd.Wait()
		output = buf.Bytes()

		if copyErr != nil {
			return fmt.Errorf("reading output of %s: %w", cmd.Path, copyErr)
		}
		return waitErr
	})
	return output, err
}

// WrapExecution runs fn and turns a panic into an error, writing a crash
// dump when a dump writer is configured.
func (e *SafeExecutor) WrapExecution(fn func() error) (err error) {
	if e.dumpWriter != nil {
		defer e.dumpWriter.RecoverAndReturn(&err)
	}
	return fn()
}
