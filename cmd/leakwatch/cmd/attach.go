package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/attach"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/config"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/launcher"
)

var attachCmd = &cobra.Command{
	Use:   "attach <pid> [options]",
	Short: "Attach the file leak detector to a running leakwatch host",
	Long: `Ask the leakwatch host with the given pid to start its file leak detector.

This is the command the management server launches on activation; it can
also be run by hand. Options are passed to the detector verbatim, "-" means
none. Run with "help" as the options to list them.

The command exits with the status the detector asked for when the host
refused to let it exit.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runAttach,
}

var attachAgent string

func init() {
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().StringVar(&attachAgent, "agent", "", "agent to attach (default: agent.name)")
}

func runAttach(c *cobra.Command, args []string) error {
	pid, err := attach.ParsePID(args[0])
	if err != nil {
		return err
	}
	opts := launcher.NoOptions
	if len(args) > 1 {
		opts = args[1]
	}
	name := attachAgent
	if name == "" {
		name = appConfig.Agent.Name
	}

	ctx, cancel := context.WithTimeout(c.Context(),
		config.Duration(appConfig.Agent.AttachTimeout, 30*time.Second))
	defer cancel()

	req := attach.Request{Agent: name, Options: opts, Session: os.Getenv(attach.EnvSession)}
	resp, err := attach.Dial(ctx, socketDir(appConfig), pid, req)
	if err != nil {
		if alive, perr := diagnostics.NewProcessInspector().Exists(ctx, pid); perr == nil && !alive {
			return fmt.Errorf("no process with pid %d", pid)
		}
		return err
	}

	_, _ = fmt.Fprint(c.OutOrStdout(), resp.Output)
	switch {
	case resp.ExitBlocked:
		if resp.ExitCode == 0 {
			return nil
		}
		return &ExitError{Code: resp.ExitCode}
	case !resp.OK:
		return &ExitError{Code: 1, Err: fmt.Errorf("attach failed: %s", resp.Error)}
	}
	return nil
}
