// Package leak is the file-handle leak detector agent.
//
// Code that wants its files tracked opens them through Open, Create or
// OpenFile. While the detector is installed every such handle is recorded
// with the goroutine and stack that opened it until it is closed; Dump
// reports what is still open.
package leak

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/agent"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
)

// AgentName is the name the detector registers and publishes under.
const AgentName = "file-leak-detector"

// Record describes one handle opened while the detector was installed.
type Record struct {
	ID        uint64
	Path      string
	Mode      string
	FD        uintptr
	Opened    time.Time
	Goroutine uint64
	Stack     []string
}

// Detector tracks open handles.
type Detector struct {
	registry  *agent.Registry
	logger    *slog.Logger
	inspector *diagnostics.ProcessInspector

	installed atomic.Bool
	nextID    atomic.Uint64
	// generation counts installs. A record is kept only if the install it
	// started under is still the current one.
	generation atomic.Uint64

	// beforeRecord runs between the unlocked installed check and the
	// insert. Tests use it to interleave an Uninstall.
	beforeRecord func()

	mu            sync.Mutex
	opts          Options
	records       map[uint64]*Record
	traceFile     *os.File
	overThreshold bool
}

// Default is the process-wide detector used by the package functions.
var Default = NewDetector(agent.Default, nil)

// NewDetector creates a detector that publishes itself to registry on
// install. A nil logger uses slog.Default.
func NewDetector(registry *agent.Registry, logger *slog.Logger) *Detector {
	if registry == nil {
		registry = agent.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		registry:  registry,
		logger:    logger,
		inspector: diagnostics.NewProcessInspector(),
		records:   make(map[uint64]*Record),
	}
}

// SetLogger replaces the detector's logger.
func (d *Detector) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Installed reports whether handles are being recorded.
func (d *Detector) Installed() bool {
	return d.installed.Load()
}

// Options returns the options the detector was installed with.
func (d *Detector) Options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// Install starts recording and publishes the detector. Installing twice is
// an error.
func (d *Detector) Install(opts Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.installed.Load() {
		return fmt.Errorf("%s is already installed", AgentName)
	}

	if opts.TracePath != "" {
		if err := guard.CheckWrite(opts.TracePath); err != nil {
			return err
		}
		f, err := os.OpenFile(opts.TracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening trace file: %w", err)
		}
		d.traceFile = f
	}

	d.opts = opts
	d.overThreshold = false
	d.generation.Add(1)
	d.installed.Store(true)
	d.registry.Publish(AgentName, d)

	d.logger.Info("file leak detector installed", "options", opts.String())
	return nil
}

// Uninstall stops recording, forgets every record and withdraws the
// published control.
func (d *Detector) Uninstall() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.installed.Swap(false) {
		return
	}
	if d.traceFile != nil {
		_ = d.traceFile.Close()
		d.traceFile = nil
	}
	d.records = make(map[uint64]*Record)
	d.registry.Publish(AgentName, nil)
}

// Records returns the open records ordered by id.
func (d *Detector) Records() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Detector) snapshotLocked() []Record {
	out := make([]Record, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Detector) opened(f *os.File, mode string) uint64 {
	gen := d.generation.Load()
	if !d.installed.Load() {
		return 0
	}

	rec := &Record{
		ID:        d.nextID.Add(1),
		Path:      f.Name(),
		Mode:      mode,
		FD:        rawFD(f),
		Opened:    time.Now(),
		Goroutine: guard.GoroutineID(),
		Stack:     callerStack(3),
	}

	if d.beforeRecord != nil {
		d.beforeRecord()
	}

	d.mu.Lock()
	if !d.installed.Load() || d.generation.Load() != gen {
		// Uninstalled, and maybe reinstalled, since the check above.
		d.mu.Unlock()
		return 0
	}
	d.records[rec.ID] = rec
	count := len(d.records)
	d.traceLocked("opened", rec)
	crossed := d.opts.Threshold > 0 && count > d.opts.Threshold && !d.overThreshold
	if crossed {
		d.overThreshold = true
	}
	d.mu.Unlock()

	if crossed {
		d.thresholdDump(count)
	}
	return rec.ID
}

func (d *Detector) closed(id uint64) {
	if id == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return
	}
	delete(d.records, id)
	d.traceLocked("closed", rec)
	if d.overThreshold && len(d.records) <= d.opts.Threshold {
		d.overThreshold = false
	}
}

func (d *Detector) traceLocked(event string, rec *Record) {
	if !d.opts.Trace {
		return
	}
	if d.traceFile != nil {
		_, _ = fmt.Fprintf(d.traceFile, "%s %s #%d %s by goroutine %d\n",
			time.Now().Format(time.RFC3339Nano), event, rec.ID, rec.Path, rec.Goroutine)
		return
	}
	d.logger.Info("file handle "+event, "id", rec.ID, "path", rec.Path, "goroutine", rec.Goroutine)
}

func (d *Detector) thresholdDump(count int) {
	var sb strings.Builder
	if err := d.Dump(&sb); err != nil {
		d.logger.Warn("threshold dump failed", "error", err)
		return
	}

	dir := d.Options().DumpDir
	if dir == "" {
		d.logger.Warn("open descriptor threshold exceeded", "open", count, "dump", sb.String())
		return
	}

	name := filepath.Join(dir, fmt.Sprintf("file-handles-%s.txt", time.Now().UTC().Format("20060102T150405.000")))
	if err := guard.CheckWrite(name); err != nil {
		d.logger.Warn("threshold dump refused", "path", name, "error", err)
		return
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		d.logger.Warn("creating dump dir", "dir", dir, "error", err)
		return
	}
	if err := renameio.WriteFile(name, []byte(sb.String()), 0o600); err != nil {
		d.logger.Warn("writing threshold dump", "path", name, "error", err)
		return
	}
	d.logger.Warn("open descriptor threshold exceeded", "open", count, "dump_file", name)
}

// Dump writes the report of open handles to w: the tracked records with
// their stacks, then any descriptors the process holds that were opened
// some other way.
func (d *Detector) Dump(w io.Writer) error {
	d.mu.Lock()
	records := d.snapshotLocked()
	d.mu.Unlock()

	if _, err := fmt.Fprintf(w, "%d descriptors are open\n", len(records)); err != nil {
		return err
	}

	tracked := make(map[uint64]struct{}, len(records))
	for _, r := range records {
		tracked[uint64(r.FD)] = struct{}{}
		if _, err := fmt.Fprintf(w, "#%d %s (%s) by goroutine %d on %s\n",
			r.ID, r.Path, r.Mode, r.Goroutine, r.Opened.Format(time.RFC3339)); err != nil {
			return err
		}
		for _, frame := range r.Stack {
			if _, err := fmt.Fprintf(w, "\tat %s\n", frame); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := d.inspector.Self(ctx, true)
	if err != nil {
		// The tracked part of the report stands on its own.
		d.logger.Debug("listing process descriptors", "error", err)
		return nil
	}

	var untracked []diagnostics.OpenFile
	for _, of := range info.OpenFiles {
		if _, ok := tracked[of.FD]; !ok {
			untracked = append(untracked, of)
		}
	}
	if len(untracked) == 0 {
		return nil
	}

	if _, err := fmt.Fprintf(w, "%d other descriptors held by the process\n", len(untracked)); err != nil {
		return err
	}
	for _, of := range untracked {
		if _, err := fmt.Fprintf(w, "\tfd %d: %s\n", of.FD, of.Path); err != nil {
			return err
		}
	}
	return nil
}

func callerStack(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []string
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return out
}

// rawFD reads the descriptor without switching the file to blocking mode
// the way (*os.File).Fd does.
func rawFD(f *os.File) uintptr {
	var fd uintptr
	rc, err := f.SyscallConn()
	if err != nil {
		return 0
	}
	_ = rc.Control(func(v uintptr) { fd = v })
	return fd
}
