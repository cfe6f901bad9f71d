package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/minisandbox/config"
)

// NewSessionFromConfig creates a Session from the application configuration
// and preloads its configured variables
func NewSessionFromConfig(logger *zap.Logger, cfg *config.Config, observer Observer) (*Session, error) {
	sessionConfig := Config{
		TimeoutSec:       cfg.Sandbox.TimeoutSec,
		AllowedFunctions: cfg.Sandbox.AllowedFunctions,
		MaxSteps:         cfg.Sandbox.MaxSteps,
		CPUSeconds:       cfg.Sandbox.CPUSeconds,
		MemoryMB:         cfg.Sandbox.MemoryMB,
		MaxLogKB:         cfg.Sandbox.MaxLogKB,
		WorkDir:          cfg.Sandbox.WorkDir,
		WorkerPath:       cfg.Sandbox.WorkerPath,
	}

	session, err := NewSession(logger, &sessionConfig, WithObserver(observer))
	if err != nil {
		return nil, err
	}

	for name, value := range cfg.Variables {
		if err := session.AddVariable(name, value); err != nil {
			return nil, fmt.Errorf("invalid variable %q: %w", name, err)
		}
	}
	return session, nil
}
