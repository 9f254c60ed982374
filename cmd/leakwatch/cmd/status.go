package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/web"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show detector state and host resource usage",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	statusJSON  bool
	statusFiles bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw JSON status")
	statusCmd.Flags().BoolVar(&statusFiles, "files", false, "include the host's open files")
	addClientFlags(statusCmd)
}

func runStatus(c *cobra.Command, _ []string) error {
	var query url.Values
	if statusFiles {
		query = url.Values{"files": {"true"}}
	}
	body, err := newManagementClient(appConfig).do(c.Context(), "GET", "/status", query)
	if err != nil {
		return err
	}

	out := c.OutOrStdout()
	if statusJSON {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			return fmt.Errorf("formatting status: %w", err)
		}
		buf.WriteByte('\n')
		_, err = buf.WriteTo(out)
		return err
	}

	var status web.StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("parsing status: %w", err)
	}
	printStatus(out, &status)
	return nil
}

func printStatus(w io.Writer, s *web.StatusResponse) {
	state := "not running"
	if s.Active {
		state = "active"
	}
	fmt.Fprintf(w, "%s: %s\n", s.Agent, state)

	if r := s.Resources; r != nil {
		fmt.Fprintf(w, "descriptors: %d/%d (%.1f%%)\n", r.OpenFDs, r.MaxFDs, r.FDUsagePercent)
		fmt.Fprintf(w, "goroutines:  %d\n", r.Goroutines)
		fmt.Fprintf(w, "heap:        %.1f MB\n", r.HeapAllocMB)
		fmt.Fprintf(w, "uptime:      %s\n", r.ProcessUptime.Round(time.Second))
	}
	if t := s.Trend; t != nil && t.Window > 0 {
		fmt.Fprintf(w, "fd growth:   %.1f/hour over %s\n", t.FDGrowthRate, t.Window.Round(time.Second))
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "%s: %s\n", warn.Level, warn.Message)
	}
	if s.Trend != nil {
		for _, warn := range s.Trend.Warnings {
			fmt.Fprintf(w, "trend: %s\n", warn)
		}
	}
	if p := s.Process; p != nil {
		fmt.Fprintf(w, "process:     %d %s (%d fds, %d threads)\n", p.PID, p.Name, p.NumFDs, p.Threads)
		for _, f := range p.OpenFiles {
			fmt.Fprintf(w, "  fd %d: %s\n", f.FD, f.Path)
		}
	}
}
