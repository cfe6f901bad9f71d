// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes a sandbox session to MCP clients through two
// tools: execute_sandboxed_code runs Starlark code and returns the run's
// result as JSON, and list_capabilities reports the tools, variables and
// modules the code can use. It uses the mark3labs/mcp-go library to handle
// the protocol details.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, session)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
