package main

import (
	"fmt"
	"os"

	"github.com/hugo-lorenzo-mato/leakwatch/cmd/leakwatch/cmd"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
