package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/isdmx/minisandbox/sandbox"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "minisandbox",
	Short: "minisandbox runs untrusted Starlark code in isolated worker processes.",
	Long: `minisandbox executes code fragments in a separate OS process under a
security policy, a wall-clock deadline and resource limits. Tools and
variables registered on the host are reachable from the code; everything
else about the host is not.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: config.yaml in . or ./config)")
	rootCmd.AddCommand(serveCmd, runCmd, versionCmd)
}

// loadDotEnv merges a .env file from the working directory into the
// environment. Variables already set win.
func loadDotEnv() {
	_ = godotenv.Load()
}

func main() {
	// Workers are this same binary; they never reach the CLI.
	if sandbox.Init() {
		return
	}
	loadDotEnv()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(ExitFailure)
	}
}
