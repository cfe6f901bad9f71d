// Package main is the entry point for the minisandbox server and CLI.
//
// minisandbox runs untrusted Starlark code in isolated worker processes
// under a configurable security policy. The serve command exposes a sandbox
// session to MCP clients over stdio or HTTP; the run command executes one
// file and prints the code together with its result.
//
// The server uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging, viper for configuration and
// Prometheus for metrics.
package main
