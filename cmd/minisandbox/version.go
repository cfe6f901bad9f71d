package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isdmx/minisandbox/mcpserver"
)

var (
	commit = "unknown"
	date   = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "minisandbox %s (commit: %s, built: %s)\n", mcpserver.Version, commit, date)
	},
}
