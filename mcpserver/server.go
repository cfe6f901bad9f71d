package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/isdmx/minisandbox/capability"
	"github.com/isdmx/minisandbox/config"
	"github.com/isdmx/minisandbox/policy"
	"github.com/isdmx/minisandbox/sandbox"
	"github.com/isdmx/minisandbox/script"
)

// Version is reported to MCP clients
const Version = "0.1.0"

// Runner executes code against a set of capabilities. *sandbox.Session
// implements it.
type Runner interface {
	Run(ctx context.Context, code string, opts ...sandbox.RunOption) (sandbox.Result, error)
	Snapshot() capability.Snapshot
	Policy() policy.Policy
}

// Capabilities is the list_capabilities response
type Capabilities struct {
	Tools           []string `json:"tools"`
	Variables       []string `json:"variables"`
	Modules         []string `json:"modules"`
	DeniedFunctions []string `json:"denied_functions"`
	DeniedModules   []string `json:"denied_modules"`
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	runner     Runner
	limiter    *rate.Limiter
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner Runner) (*MCPServer, error) {
	if runner == nil {
		return nil, errors.New("runner must not be nil")
	}

	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}
	if rps := cfg.Sandbox.MaxRunsPerSec; rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.metrics_port", cfg.Server.MetricsPort),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Strings("sandbox.allowed_functions", cfg.Sandbox.AllowedFunctions),
		zap.Uint64("sandbox.max_steps", cfg.Sandbox.MaxSteps),
		zap.Int("sandbox.cpu_seconds", cfg.Sandbox.CPUSeconds),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Int("sandbox.max_log_kb", cfg.Sandbox.MaxLogKB),
		zap.Float64("sandbox.max_runs_per_sec", cfg.Sandbox.MaxRunsPerSec),
	)

	s.mcpServer = server.NewMCPServer("minisandbox", Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.registerExecuteSandboxedCodeTool()
	s.registerListCapabilitiesTool()

	if cfg.Server.Transport == "http" {
		s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	}

	return s, nil
}

// registerExecuteSandboxedCodeTool registers the execute_sandboxed_code tool
func (s *MCPServer) registerExecuteSandboxedCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_sandboxed_code",
		Description: "Execute untrusted Starlark code in an isolated worker process. Assign the value to return to _result.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Starlark source code",
				},
				"timeout_sec": map[string]any{
					"type":        "number",
					"description": "Wall-clock deadline in seconds (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteSandboxedCode)
}

// registerListCapabilitiesTool registers the list_capabilities tool
func (s *MCPServer) registerListCapabilitiesTool() {
	tool := mcp.Tool{
		Name:        "list_capabilities",
		Description: "List the tools, variables and modules available to sandboxed code",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListCapabilities)
}

// handleExecuteSandboxedCode handles the execute_sandboxed_code tool
func (s *MCPServer) handleExecuteSandboxedCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("code parameter is required: %v", err)), nil
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("code execution rejected by rate limit")
		return mcp.NewToolResultError("rate limit exceeded, retry later"), nil
	}

	var opts []sandbox.RunOption
	if sec := request.GetFloat("timeout_sec", 0); sec > 0 {
		opts = append(opts, sandbox.WithTimeout(time.Duration(sec*float64(time.Second))))
	}

	s.logger.Info("code execution requested", zap.Int("code_len", len(code)))

	result, err := s.runner.Run(ctx, code, opts...)
	if err != nil {
		s.logger.Error("sandbox execution failed", zap.Error(err), zap.String("code", code))
		return mcp.NewToolResultError(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	s.logger.Info("code execution completed",
		zap.String("status", string(result.Status)),
		zap.Int("logs_len", len(result.Logs)))

	body, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}

	res := mcp.NewToolResultText(string(body))
	res.IsError = result.Status != sandbox.StatusSuccess
	return res, nil
}

// handleListCapabilities handles the list_capabilities tool
func (s *MCPServer) handleListCapabilities(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.runner.Snapshot()
	p := s.runner.Policy()

	body, err := json.Marshal(Capabilities{
		Tools:           snap.ToolNames(),
		Variables:       snap.VariableNames(),
		Modules:         script.Modules(),
		DeniedFunctions: p.DeniedFunctions,
		DeniedModules:   p.DeniedModules,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode capabilities: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	if s.httpServer == nil {
		return errors.New("http transport is not configured")
	}
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
