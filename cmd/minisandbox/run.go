package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/minisandbox/config"
	"github.com/isdmx/minisandbox/logger"
	"github.com/isdmx/minisandbox/sandbox"
)

// Exit codes for the run command.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitSecurityError = 2
	ExitTimedOut      = 3
)

var (
	runAllow   []string
	runTimeout int
	runVars    []string
)

var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Run one Starlark file in the sandbox",
	Long: `Run a file (or standard input) in a fresh sandbox worker and print
the code followed by the YAML-rendered result.

Variable values are parsed as YAML, so --var n=3 is an int and
--var tags=[a,b] a list.

Examples:
  minisandbox run script.star
  echo '_result = 1 + 2' | minisandbox run -
  minisandbox run --allow open --var user_name=Alice --timeout 5 script.star

Exit codes:
  0  success
  1  error or no result
  2  security error
  3  timed out`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runAllow, "allow", nil, "functions to remove from the deny list (default from config)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "timeout in seconds (default from config)")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "variable as name=value, repeatable")
}

func runRun(cmd *cobra.Command, args []string) error {
	code, err := readCode(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("allow") {
		cfg.Sandbox.AllowedFunctions = runAllow
	}
	if runTimeout > 0 {
		cfg.Sandbox.TimeoutSec = runTimeout
	}
	if cfg.Variables == nil {
		cfg.Variables = make(map[string]any)
	}
	for _, kv := range runVars {
		name, value, err := parseVar(kv)
		if err != nil {
			return err
		}
		cfg.Variables[name] = value
	}

	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	session, err := sandbox.NewSessionFromConfig(log, cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if err := printCode(out, code); err != nil {
		return err
	}

	res, err := session.Run(ctx, code, sandbox.WithTimeout(cfg.GetTimeout()))
	if err != nil {
		return err
	}

	if err := printResult(out, res); err != nil {
		return err
	}

	if exit := exitCode(res.Status); exit != ExitSuccess {
		log.Debug("run did not succeed", zap.String("status", string(res.Status)))
		_ = log.Sync()
		os.Exit(exit)
	}
	return nil
}

func readCode(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	return string(data), nil
}

// parseVar splits name=value and decodes value as YAML
func parseVar(kv string) (string, any, error) {
	name, raw, ok := strings.Cut(kv, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid --var %q, want name=value", kv)
	}

	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return "", nil, fmt.Errorf("invalid value for --var %s: %w", name, err)
	}
	return name, value, nil
}

func printCode(w io.Writer, code string) error {
	_, err := fmt.Fprintf(w, "--- code ---\n%s\n", strings.TrimRight(code, "\n"))
	return err
}

func printResult(w io.Writer, res sandbox.Result) error {
	if _, err := fmt.Fprintln(w, "--- result ---"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	return enc.Close()
}

func exitCode(status sandbox.Status) int {
	switch status {
	case sandbox.StatusSuccess:
		return ExitSuccess
	case sandbox.StatusSecurityError:
		return ExitSecurityError
	case sandbox.StatusTimedOut:
		return ExitTimedOut
	default:
		return ExitFailure
	}
}
