package sandbox

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/minisandbox/capability"
	"github.com/isdmx/minisandbox/policy"
)

// DefaultTimeout is the run deadline when none is configured
const DefaultTimeout = 10 * time.Second

// Size constants
const (
	BytesPerKB = 1024
	BytesPerMB = 1024 * 1024
)

// Config holds configuration for a Session
type Config struct {
	TimeoutSec       int
	AllowedFunctions []string
	MaxSteps         uint64
	CPUSeconds       int
	MemoryMB         int
	MaxLogKB         int
	// WorkDir is the worker's working directory; the supervisor's when empty
	WorkDir string
	// WorkerPath is the worker binary; the current executable when empty
	WorkerPath string
	WorkerArgs []string
}

func (c *Config) timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c *Config) limits() Limits {
	return Limits{
		MaxSteps:    c.MaxSteps,
		CPUSeconds:  c.CPUSeconds,
		MemoryMB:    c.MemoryMB,
		MaxLogBytes: c.MaxLogKB * BytesPerKB,
	}
}

// Observer is notified about finished runs and tool calls
type Observer interface {
	ObserveRun(status Status, duration time.Duration)
	ObserveToolCall(tool string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRun(Status, time.Duration) {}
func (nopObserver) ObserveToolCall(string, error)    {}

// Session owns a capability store and a security policy and runs code
// against them, one isolated worker process per run. Runs are serialized.
type Session struct {
	logger   *zap.Logger
	config   *Config
	store    *capability.Store
	observer Observer

	policyMu sync.RWMutex
	policy   policy.Policy
	allowed  []string

	runMu sync.Mutex
	// onSpawn is called with the pid of every worker started
	onSpawn func(pid int)
}

// SessionOption defines a functional option for Session
type SessionOption func(*Session)

// WithStore sets the capability store of the Session
func WithStore(store *capability.Store) SessionOption {
	return func(s *Session) {
		s.store = store
	}
}

// WithObserver sets the Observer of the Session
func WithObserver(observer Observer) SessionOption {
	return func(s *Session) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// NewSession creates a Session and configures its policy from
// config.AllowedFunctions
func NewSession(logger *zap.Logger, config *Config, opts ...SessionOption) (*Session, error) {
	if config == nil {
		config = &Config{}
	}

	s := &Session{
		logger:   logger,
		config:   config,
		store:    capability.NewStore(),
		observer: nopObserver{},
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.Configure(config.AllowedFunctions); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure replaces the session policy with one built from allowed
func (s *Session) Configure(allowed []string) error {
	p, err := policy.New(allowed)
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	s.policyMu.Lock()
	s.policy = p
	s.allowed = slices.Clone(allowed)
	s.policyMu.Unlock()

	s.logger.Info("sandbox policy configured",
		zap.Strings("allowed_functions", allowed),
		zap.Strings("denied_functions", p.DeniedFunctions),
		zap.Strings("denied_modules", p.DeniedModules))
	return nil
}

// Policy returns the effective policy
func (s *Session) Policy() policy.Policy {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	return s.policy
}

// AllowedFunctions returns the allow list the policy was built from
func (s *Session) AllowedFunctions() []string {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	return slices.Clone(s.allowed)
}

// AddTool makes fn callable by sandboxed code under name
func (s *Session) AddTool(name string, fn capability.Tool) error {
	if err := s.store.AddTool(name, fn); err != nil {
		return err
	}
	s.logger.Info("tool added", zap.String("name", name))
	return nil
}

// AddVariable makes value visible to sandboxed code under name
func (s *Session) AddVariable(name string, value any) error {
	if err := s.store.AddVariable(name, value); err != nil {
		return err
	}
	s.logger.Info("variable added", zap.String("name", name), zap.Any("value", value))
	return nil
}

// Snapshot returns a copy of the session's capabilities
func (s *Session) Snapshot() capability.Snapshot {
	return s.store.Snapshot()
}

type runOptions struct {
	timeout time.Duration
}

// RunOption defines a functional option for Session.Run
type RunOption func(*runOptions)

// WithTimeout overrides the run deadline; non-positive values are ignored
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Run executes code in a fresh worker process and returns its result.
//
// Every outcome of the run itself, including timeouts and crashed workers,
// is reported through Result. The error is reserved for supervisor failures:
// the worker could not be started or ctx was cancelled.
func (s *Session) Run(ctx context.Context, code string, opts ...RunOption) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ro := runOptions{timeout: s.config.timeout()}
	for _, opt := range opts {
		opt(&ro)
	}

	snap := s.store.Snapshot()
	req := ExecutionRequest{
		RunID:     uuid.NewString(),
		Code:      code,
		Policy:    s.Policy(),
		Variables: snap.Variables,
		Tools:     snap.ToolNames(),
		Timeout:   ro.timeout,
		Limits:    s.config.limits(),
	}

	logger := s.logger.With(zap.String("run_id", req.RunID))
	logger.Info("running code in sandbox",
		zap.String("code", code),
		zap.Duration("timeout", req.Timeout),
		zap.Strings("tools", req.Tools),
		zap.Strings("variables", snap.VariableNames()))

	start := time.Now()
	res, err := s.supervise(ctx, logger, req, snap.Tools)
	if err != nil {
		logger.Error("sandbox run aborted", zap.Error(err))
		return Result{}, err
	}
	duration := time.Since(start)
	s.observer.ObserveRun(res.Status, duration)

	logger.Info("sandbox run finished",
		zap.String("status", string(res.Status)),
		zap.Duration("duration", duration),
		zap.Any("output", res.Output),
		zap.Int("logs_len", len(res.Logs)),
		zap.String("error", res.Error))

	return res, nil
}
