package diagnostics

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// OpenFile is one descriptor held by a process.
type OpenFile struct {
	FD   uint64 `json:"fd"`
	Path string `json:"path"`
}

// ProcessInfo summarizes a process as the operating system sees it.
type ProcessInfo struct {
	PID       int32      `json:"pid"`
	Name      string     `json:"name,omitempty"`
	Cmdline   string     `json:"cmdline,omitempty"`
	Created   time.Time  `json:"created,omitempty"`
	NumFDs    int32      `json:"num_fds"`
	Threads   int32      `json:"threads"`
	RSSBytes  uint64     `json:"rss_bytes"`
	OpenFiles []OpenFile `json:"open_files,omitempty"`
}

// ProcessInspector reads descriptor tables of running processes.
type ProcessInspector struct{}

// NewProcessInspector returns an inspector.
func NewProcessInspector() *ProcessInspector {
	return &ProcessInspector{}
}

// Exists reports whether pid names a live process.
func (ProcessInspector) Exists(ctx context.Context, pid int) (bool, error) {
	// #nosec G115 -- pids fit in int32
	return process.PidExistsWithContext(ctx, int32(pid))
}

// Inspect collects ProcessInfo for pid. Fields the platform cannot provide
// are left zero; only a missing process is an error.
func (ProcessInspector) Inspect(ctx context.Context, pid int, withFiles bool) (*ProcessInfo, error) {
	// #nosec G115 -- pids fit in int32
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("inspecting process %d: %w", pid, err)
	}

	info := &ProcessInfo{PID: p.Pid}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		info.Created = time.UnixMilli(ms)
	}
	if n, err := p.NumFDsWithContext(ctx); err == nil {
		info.NumFDs = n
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		info.Threads = n
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		info.RSSBytes = mem.RSS
	}

	if withFiles {
		files, err := p.OpenFilesWithContext(ctx)
		if err == nil {
			info.OpenFiles = make([]OpenFile, 0, len(files))
			for _, f := range files {
				info.OpenFiles = append(info.OpenFiles, OpenFile{FD: f.Fd, Path: f.Path})
			}
			sort.Slice(info.OpenFiles, func(i, j int) bool {
				return info.OpenFiles[i].FD < info.OpenFiles[j].FD
			})
		}
	}

	return info, nil
}

// Self inspects the current process.
func (pi ProcessInspector) Self(ctx context.Context, withFiles bool) (*ProcessInfo, error) {
	return pi.Inspect(ctx, os.Getpid(), withFiles)
}
