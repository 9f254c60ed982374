package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate the file leak detector on a running server",
	Args:  cobra.NoArgs,
	RunE:  runActivate,
}

var activateOpts string

func init() {
	rootCmd.AddCommand(activateCmd)
	activateCmd.Flags().StringVar(&activateOpts, "opts", "", "detector options, e.g. threshold=200,trace")
	addClientFlags(activateCmd)
}

func runActivate(c *cobra.Command, _ []string) error {
	query := url.Values{}
	if activateOpts != "" {
		query.Set("opts", activateOpts)
	}
	body, err := newManagementClient(appConfig).do(c.Context(), "POST", "/activate", query)
	if err != nil {
		return err
	}
	out := string(body)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, _ = fmt.Fprint(c.OutOrStdout(), out)
	return nil
}
