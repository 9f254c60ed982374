package diagnostics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
)

// CrashDump contains everything captured when a panic is recovered.
type CrashDump struct {
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace,omitempty"`

	ResourceState   ResourceSnapshot   `json:"resource_state"`
	ResourceHistory []ResourceSnapshot `json:"resource_history,omitempty"`

	// What the host was doing: e.g. agent "file-leak-detector", operation "attach".
	Agent       string   `json:"agent,omitempty"`
	Operation   string   `json:"operation,omitempty"`
	CommandPath string   `json:"command_path,omitempty"`
	CommandArgs []string `json:"command_args,omitempty"`
	WorkDir     string   `json:"work_dir,omitempty"`

	RedactedEnv map[string]string `json:"redacted_env,omitempty"`
}

// CommandContext describes the subprocess running when a dump is taken.
type CommandContext struct {
	Path    string
	Args    []string
	WorkDir string
	Started time.Time
}

type operationContext struct {
	agent     string
	operation string
}

// CrashDumpWriter writes crash dumps to a directory and keeps only the
// newest maxFiles of them.
type CrashDumpWriter struct {
	dir          string
	maxFiles     int
	includeStack bool
	includeEnv   bool
	logger       *slog.Logger
	monitor      *ResourceMonitor

	currentCmd atomic.Pointer[CommandContext]

	mu sync.Mutex // serializes file operations
}

// NewCrashDumpWriter creates a crash dump writer.
func NewCrashDumpWriter(
	dir string,
	maxFiles int,
	includeStack bool,
	includeEnv bool,
	logger *slog.Logger,
	monitor *ResourceMonitor,
) *CrashDumpWriter {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if dir == "" {
		dir = ".leakwatch/crashdumps"
	}

	return &CrashDumpWriter{
		dir:          dir,
		maxFiles:     maxFiles,
		includeStack: includeStack,
		includeEnv:   includeEnv,
		logger:       logger,
		monitor:      monitor,
	}
}

// Dir returns the dump directory.
func (w *CrashDumpWriter) Dir() string {
	return w.dir
}

// SetCurrentCommand records the subprocess being executed.
func (w *CrashDumpWriter) SetCurrentCommand(ctx *CommandContext) {
	w.currentCmd.Store(ctx)
}

// ClearCurrentCommand clears the subprocess context.
func (w *CrashDumpWriter) ClearCurrentCommand() {
	w.currentCmd.Store(nil)
}

// WriteCrashDump builds a dump for panicValue and writes it atomically.
func (w *CrashDumpWriter) WriteCrashDump(panicValue interface{}) (string, error) {
	return w.writeCrashDump(panicValue, operationContext{})
}

func (w *CrashDumpWriter) writeCrashDump(panicValue interface{}, op operationContext) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dump := CrashDump{
		Timestamp:  time.Now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		PanicValue: fmt.Sprintf("%v", panicValue),
	}

	if w.includeStack {
		dump.StackTrace = string(debug.Stack())
	}

	if w.monitor != nil {
		dump.ResourceState = w.monitor.TakeSnapshot()
		dump.ResourceHistory = w.monitor.GetHistory()
	}

	dump.Agent = op.agent
	dump.Operation = op.operation
	if cmd := w.currentCmd.Load(); cmd != nil {
		dump.CommandPath = cmd.Path
		dump.CommandArgs = cmd.Args
		dump.WorkDir = cmd.WorkDir
	}

	if w.includeEnv {
		dump.RedactedEnv = redactEnvironment(os.Environ())
	}

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating crash dump dir: %w", err)
	}

	filename := fmt.Sprintf("crash-%s.json", dump.Timestamp.Format("2006-01-02T15-04-05.000"))
	path := filepath.Join(w.dir, filename)

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}

	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}

	_ = w.cleanupOldDumps()

	return path, nil
}

// RecoverAndReturn recovers from a panic, writes a dump, and stores an error
// in *errPtr instead of re-panicking.
// Usage: defer writer.RecoverAndReturn(&err)
//
//nolint:gocritic // ptrToRefParam: errPtr must be a pointer to modify the caller's error variable
func (w *CrashDumpWriter) RecoverAndReturn(errPtr *error) {
	w.recoverInto(recover(), operationContext{}, errPtr)
}

// RecoverOperation is RecoverAndReturn for a panic inside an agent
// operation. The dump names agent and operation; concurrent operations do
// not share this context.
// Usage: defer writer.RecoverOperation(agent, "attach", &err)
//
//nolint:gocritic // ptrToRefParam: see RecoverAndReturn
func (w *CrashDumpWriter) RecoverOperation(agent, operation string, errPtr *error) {
	w.recoverInto(recover(), operationContext{agent: agent, operation: operation}, errPtr)
}

func (w *CrashDumpWriter) recoverInto(r interface{}, op operationContext, errPtr *error) {
	if r == nil {
		return
	}

	path, dumpErr := w.writeCrashDump(r, op)
	if w.logger != nil {
		if dumpErr != nil {
			w.logger.Error("failed to write crash dump", "error", dumpErr, "panic", r,
				"agent", op.agent, "operation", op.operation)
		} else {
			w.logger.Error("crash dump written after panic", "path", path, "panic", r,
				"agent", op.agent, "operation", op.operation)
		}
	}
	*errPtr = fmt.Errorf("panic: %v (dump: %s)", r, path)
}

// cleanupOldDumps removes the oldest dumps beyond maxFiles.
func (w *CrashDumpWriter) cleanupOldDumps() error {
	dumps, err := listDumps(w.dir)
	if err != nil {
		return err
	}

	for len(dumps) > w.maxFiles {
		path := filepath.Join(w.dir, dumps[0].name)
		if err := os.Remove(path); err != nil && w.logger != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		dumps = dumps[1:]
	}

	return nil
}

type dumpFile struct {
	name    string
	modTime time.Time
}

// listDumps returns crash dump files in dir, oldest first.
func listDumps(dir string) ([]dumpFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dumps []dumpFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "crash-") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dumps = append(dumps, dumpFile{name: e.Name(), modTime: info.ModTime()})
	}

	sort.Slice(dumps, func(i, j int) bool {
		if dumps[i].modTime.Equal(dumps[j].modTime) {
			return dumps[i].name < dumps[j].name
		}
		return dumps[i].modTime.Before(dumps[j].modTime)
	})
	return dumps, nil
}

var sensitiveEnvSubstrings = []string{
	"TOKEN", "KEY", "SECRET", "PASSWORD", "CREDENTIAL",
	"AUTH", "PRIVATE",
}

func redactEnvironment(environ []string) map[string]string {
	result := make(map[string]string, len(environ))
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		upper := strings.ToUpper(key)
		for _, sensitive := range sensitiveEnvSubstrings {
			if strings.Contains(upper, sensitive) {
				value = "[REDACTED]"
				break
			}
		}
		result[key] = value
	}
	return result
}

// LoadLatestCrashDump loads the most recent crash dump from dir.
func LoadLatestCrashDump(dir string) (*CrashDump, error) {
	dumps, err := listDumps(dir)
	if err != nil {
		return nil, fmt.Errorf("reading crash dump dir: %w", err)
	}
	if len(dumps) == 0 {
		return nil, fmt.Errorf("no crash dumps found in %s", dir)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening crash dump dir: %w", err)
	}
	defer func() { _ = root.Close() }()

	data, err := root.ReadFile(dumps[len(dumps)-1].name)
	if err != nil {
		return nil, fmt.Errorf("reading crash dump: %w", err)
	}

	var dump CrashDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing crash dump: %w", err)
	}

	return &dump, nil
}
