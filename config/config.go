package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables overriding configuration keys,
// e.g. MINISANDBOX_SANDBOX_TIMEOUT_SEC
const EnvPrefix = "MINISANDBOX"

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging"`
	// Variables are preloaded into every session. Keys are lowercased by
	// the configuration loader.
	Variables map[string]any `mapstructure:"variables"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
	// MetricsPort serves /metrics when positive
	MetricsPort int `mapstructure:"metrics_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	TimeoutSec       int      `mapstructure:"timeout_sec"`
	AllowedFunctions []string `mapstructure:"allowed_functions"`
	MaxSteps         uint64   `mapstructure:"max_steps"`
	CPUSeconds       int      `mapstructure:"cpu_seconds"`
	MemoryMB         int      `mapstructure:"memory_mb"`
	MaxLogKB         int      `mapstructure:"max_log_kb"`
	WorkDir          string   `mapstructure:"workdir"`
	WorkerPath       string   `mapstructure:"worker_path"`
	MaxRunsPerSec    float64  `mapstructure:"max_runs_per_sec"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration from config.yaml
// in . or ./config
func New() (*Config, error) {
	return Load("")
}

// Load loads and validates the application configuration. An empty path
// searches for config.yaml in . and ./config; a missing file there is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 0)

	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.allowed_functions", []string{})
	v.SetDefault("sandbox.max_steps", 0)
	v.SetDefault("sandbox.cpu_seconds", 0)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.max_log_kb", 1024)
	v.SetDefault("sandbox.workdir", "")
	v.SetDefault("sandbox.worker_path", "")
	v.SetDefault("sandbox.max_runs_per_sec", 0)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid server.metrics_port: %d", c.Server.MetricsPort)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB < 0 {
		return fmt.Errorf("sandbox.memory_mb must not be negative, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUSeconds < 0 {
		return fmt.Errorf("sandbox.cpu_seconds must not be negative, got: %d", c.Sandbox.CPUSeconds)
	}

	if c.Sandbox.MaxLogKB < 0 {
		return fmt.Errorf("sandbox.max_log_kb must not be negative, got: %d", c.Sandbox.MaxLogKB)
	}

	if c.Sandbox.MaxRunsPerSec < 0 {
		return fmt.Errorf("sandbox.max_runs_per_sec must not be negative, got: %g", c.Sandbox.MaxRunsPerSec)
	}

	for _, name := range c.Sandbox.AllowedFunctions {
		if strings.TrimSpace(name) == "" {
			return errors.New("sandbox.allowed_functions must not contain empty names")
		}
	}

	if c.Logging.Mode != "development" && c.Logging.Mode != "production" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}
