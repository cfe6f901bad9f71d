package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			TimeoutSec: 30,
			MemoryMB:   512,
			MaxLogKB:   1024,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.AllowedFunctions = []string{"open"}
		require.NoError(t, cfg.validate())
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("InvalidHTTPPort", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.HTTPPort = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.http_port")
	})

	t.Run("HTTPPortIgnoredForStdio", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "stdio"
		cfg.Server.HTTPPort = 0
		require.NoError(t, cfg.validate())
	})

	t.Run("InvalidMetricsPort", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.MetricsPort = 70000

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.metrics_port")
	})

	t.Run("InvalidSandboxTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.TimeoutSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.timeout_sec must be positive")
	})

	t.Run("InvalidSandboxMemory", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MemoryMB = -1

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.memory_mb must not be negative")
	})

	t.Run("InvalidRunRate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MaxRunsPerSec = -2

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.max_runs_per_sec")
	})

	t.Run("EmptyAllowedFunction", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.AllowedFunctions = []string{"open", " "}

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty names")
	})

	t.Run("InvalidLoggingMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Mode = "invalid_mode"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.mode")
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "invalid_level"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.level")
	})
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, "stdio", cfg.Server.Transport)
		assert.Equal(t, 10, cfg.Sandbox.TimeoutSec)
		assert.Equal(t, 10*time.Second, cfg.GetTimeout())
		assert.Empty(t, cfg.Sandbox.AllowedFunctions)
		assert.Equal(t, "production", cfg.Logging.Mode)
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "minisandbox.yaml")
		content := `
server:
  transport: http
  http_port: 9090
sandbox:
  timeout_sec: 3
  allowed_functions: [open]
  max_steps: 100000
logging:
  mode: development
  level: debug
variables:
  user_name: Alice
  limits:
    retries: 3
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "http", cfg.Server.Transport)
		assert.Equal(t, 9090, cfg.Server.HTTPPort)
		assert.Equal(t, 3, cfg.Sandbox.TimeoutSec)
		assert.Equal(t, []string{"open"}, cfg.Sandbox.AllowedFunctions)
		assert.Equal(t, uint64(100000), cfg.Sandbox.MaxSteps)
		assert.Equal(t, "Alice", cfg.Variables["user_name"])
		assert.Contains(t, cfg.Variables, "limits")
	})

	t.Run("EnvOverride", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("MINISANDBOX_SANDBOX_TIMEOUT_SEC", "7")

		cfg, err := New()
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Sandbox.TimeoutSec)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("InvalidFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  timeout_sec: -1\n"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation error")
	})
}
