package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/minisandbox/config"
	"github.com/isdmx/minisandbox/logger"
	"github.com/isdmx/minisandbox/mcpserver"
	"github.com/isdmx/minisandbox/metrics"
	"github.com/isdmx/minisandbox/sandbox"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a sandbox session over MCP",
	Long: `Start an MCP server exposing the execute_sandboxed_code and
list_capabilities tools. The transport (stdio or http), limits and
preloaded variables come from the configuration file and MINISANDBOX_
environment variables.`,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	app := newApp(configPath)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func newApp(path string) *fx.App {
	return fx.New(
		fx.Provide(
			// Config
			func() (*config.Config, error) { return config.Load(path) },

			// Logger with configuration
			logger.NewFromConfig,

			// Metrics, observing every run of the session
			fx.Annotate(metrics.NewCollector, fx.As(fx.Self()), fx.As(new(sandbox.Observer))),

			// Sandbox session with preloaded variables
			fx.Annotate(sandbox.NewSessionFromConfig, fx.As(fx.Self()), fx.As(new(mcpserver.Runner))),

			// MCP Server
			mcpserver.New,
		),

		fx.Invoke(registerTransport, registerMetricsServer),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
}

// registerTransport starts the configured MCP transport with the application
// and stops the application when the transport ends
func registerTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, server *mcpserver.MCPServer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var serve func() error
			switch cfg.Server.Transport {
			case "stdio":
				serve = server.ServeStdio
			case "http":
				serve = server.ServeHTTP
			default:
				return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
			}

			go func() {
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("MCP transport stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(ExitFailure))
					return
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

// registerMetricsServer serves /metrics when server.metrics_port is set
func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, collector *metrics.Collector) {
	if cfg.Server.MetricsPort <= 0 {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("serving metrics", zap.Int("port", cfg.Server.MetricsPort))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
