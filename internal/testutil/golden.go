// Package testutil holds golden file helpers for leakwatch tests.
package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var update = flag.Bool("update", false, "update golden files")

// Golden compares output against files under a testdata directory.
type Golden struct {
	t       testing.TB
	baseDir string
}

// NewGolden creates a golden file helper rooted at baseDir.
func NewGolden(t testing.TB, baseDir string) *Golden {
	return &Golden{t: t, baseDir: baseDir}
}

// Assert compares actual against <name>.golden after normalizing both.
// With -update the file is rewritten instead.
func (g *Golden) Assert(name string, actual []byte) {
	g.t.Helper()

	path := filepath.Join(g.baseDir, name+".golden")
	if *update {
		require.NoError(g.t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(g.t, os.WriteFile(path, actual, 0o600))
		g.t.Logf("updated golden file: %s", path)
		return
	}

	expected, err := os.ReadFile(path)
	require.NoError(g.t, err, "reading golden file %s", path)
	assert.Equal(g.t, Normalize(string(expected)), Normalize(string(actual)), "output mismatch for %s", name)
}

// AssertString is Assert for strings.
func (g *Golden) AssertString(name, actual string) {
	g.t.Helper()
	g.Assert(name, []byte(actual))
}

// Normalize converts line endings, strips trailing blanks from every line and
// drops trailing newlines.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

var (
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})`)
	goroutineRe = regexp.MustCompile(`goroutine \d+`)
	fdRe        = regexp.MustCompile(`\bfd \d+`)
)

// ScrubTimestamps replaces RFC 3339 timestamps.
func ScrubTimestamps(s string) string {
	return timestampRe.ReplaceAllString(s, "[TIMESTAMP]")
}

// ScrubGoroutines replaces goroutine ids.
func ScrubGoroutines(s string) string {
	return goroutineRe.ReplaceAllString(s, "goroutine [N]")
}

// ScrubFDs replaces descriptor numbers.
func ScrubFDs(s string) string {
	return fdRe.ReplaceAllString(s, "fd [N]")
}

// ScrubStacks drops the "\tat frame" lines of a handle dump.
func ScrubStacks(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.HasPrefix(line, "\tat ") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// ScrubPaths replaces basePath with [WORKDIR].
func ScrubPaths(s, basePath string) string {
	return strings.ReplaceAll(s, basePath, "[WORKDIR]")
}

// ScrubAll applies every scrubber and normalizes the result.
func ScrubAll(s, basePath string) string {
	s = ScrubPaths(s, basePath)
	s = ScrubTimestamps(s)
	s = ScrubGoroutines(s)
	s = ScrubFDs(s)
	s = ScrubStacks(s)
	return Normalize(s)
}
