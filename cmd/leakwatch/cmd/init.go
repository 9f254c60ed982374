package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to .leakwatch/config.yaml in the current
directory, or to ~/.config/leakwatch/config.yaml with --user.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	initForce bool
	initUser  bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().BoolVar(&initUser, "user", false, "Write the per-user configuration instead")
}

func runInit(c *cobra.Command, _ []string) error {
	var path string
	if initUser {
		p, err := config.UserConfigPath()
		if err != nil {
			return err
		}
		path = p
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		path = config.ProjectConfigPath(cwd)
	}

	if err := config.WriteDefault(path, initForce); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
