package cmd

import (
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the open file handles recorded by the detector",
	Args:  cobra.NoArgs,
	RunE:  runDump,
}

var dumpOutput string

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "write the report to a file instead of stdout")
	addClientFlags(dumpCmd)
}

func runDump(c *cobra.Command, _ []string) error {
	body, err := newManagementClient(appConfig).do(c.Context(), "GET", "/", nil)
	if err != nil {
		return err
	}

	if dumpOutput == "" {
		_, err = c.OutOrStdout().Write(body)
		return err
	}
	if err := renameio.WriteFile(dumpOutput, body, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dumpOutput, err)
	}
	_, _ = fmt.Fprintf(c.ErrOrStderr(), "wrote %d bytes to %s\n", len(body), dumpOutput)
	return nil
}
