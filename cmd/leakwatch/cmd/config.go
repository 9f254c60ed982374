package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, config files, environment and
flags are merged. The admin token is redacted.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configShowPath bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "print only the config file in use")
}

func runConfig(c *cobra.Command, _ []string) error {
	out := c.OutOrStdout()
	if configShowPath {
		_, _ = fmt.Fprintln(out, configFileUsed())
		return nil
	}

	data, err := renderConfig(appConfig)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func renderConfig(cfg *config.Config) ([]byte, error) {
	shown := *cfg
	if shown.Server.AdminToken != "" {
		shown.Server.AdminToken = "[REDACTED]"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return data, nil
}
