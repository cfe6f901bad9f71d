package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/minisandbox/capability"
	"github.com/isdmx/minisandbox/config"
)

// TestMain lets the test binary double as the worker executable
func TestMain(m *testing.M) {
	if Init() {
		return
	}
	os.Exit(m.Run())
}

// MockObserver implements Observer for testing
type MockObserver struct {
	mu        sync.Mutex
	runs      []Status
	toolCalls map[string]int
	toolErrs  map[string]int
}

func (m *MockObserver) ObserveRun(status Status, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, status)
}

func (m *MockObserver) ObserveToolCall(tool string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.toolCalls == nil {
		m.toolCalls = make(map[string]int)
		m.toolErrs = make(map[string]int)
	}
	m.toolCalls[tool]++
	if err != nil {
		m.toolErrs[tool]++
	}
}

func newTestSession(t *testing.T, cfg *Config, opts ...SessionOption) *Session {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	s, err := NewSession(zaptest.NewLogger(t), cfg, opts...)
	require.NoError(t, err)
	return s
}

func getWeather(ctx context.Context, call capability.Call) (any, error) {
	city, _ := call.Arg(0).(string)
	capability.Logf(ctx, "looking up %s", city)
	if city != "北京" {
		return nil, errors.New("city unknown")
	}
	return "Sunny, 25°C", nil
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, DefaultTimeout, cfg.timeout())
	assert.Equal(t, 10*time.Second, DefaultTimeout)

	cfg = &Config{TimeoutSec: 3, MaxLogKB: 2, MaxSteps: 100}
	assert.Equal(t, 3*time.Second, cfg.timeout())
	assert.Equal(t, Limits{MaxSteps: 100, MaxLogBytes: 2 * BytesPerKB}, cfg.limits())
}

func TestSessionRun(t *testing.T) {
	ctx := context.Background()

	t.Run("VariablesAndTools", func(t *testing.T) {
		observer := &MockObserver{}
		s := newTestSession(t, nil, WithObserver(observer))
		require.NoError(t, s.AddVariable("user_name", "Alice"))
		require.NoError(t, s.AddTool("get_weather", getWeather))

		res, err := s.Run(ctx, "print(\"hi {}\".format(user_name))\n_result = get_weather(\"北京\")")
		require.NoError(t, err)
		assert.Equal(t, Result{
			Output: "Sunny, 25°C",
			Logs:   "hi Alice\nlooking up 北京\n",
			Status: StatusSuccess,
		}, res)

		assert.Equal(t, []Status{StatusSuccess}, observer.runs)
		assert.Equal(t, 1, observer.toolCalls["get_weather"])
		assert.Zero(t, observer.toolErrs["get_weather"])
	})

	t.Run("Deterministic", func(t *testing.T) {
		s := newTestSession(t, nil)
		for range 2 {
			res, err := s.Run(ctx, `_result = 1 + 2 + 3 + 4 + 5`)
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, res.Status)
			assert.Equal(t, int64(15), res.Output)
			assert.Empty(t, res.Logs)
		}
	})

	t.Run("ToolError", func(t *testing.T) {
		observer := &MockObserver{}
		s := newTestSession(t, nil, WithObserver(observer))
		require.NoError(t, s.AddTool("get_weather", getWeather))

		res, err := s.Run(ctx, "print(\"asking\")\n_result = get_weather(\"Atlantis\")")
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Error, "city unknown")
		assert.Equal(t, "asking\nlooking up Atlantis\n", res.Logs)
		assert.Nil(t, res.Output)
		assert.Equal(t, 1, observer.toolErrs["get_weather"])
	})

	t.Run("ToolPanic", func(t *testing.T) {
		s := newTestSession(t, nil)
		require.NoError(t, s.AddTool("explode", func(context.Context, capability.Call) (any, error) {
			panic("kaboom")
		}))

		res, err := s.Run(ctx, `_result = explode()`)
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Error, "kaboom")
	})

	t.Run("SyntaxError", func(t *testing.T) {
		s := newTestSession(t, nil)
		res, err := s.Run(ctx, `_result = (`)
		require.NoError(t, err)
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Error, "SyntaxError")
	})
}

func TestSessionSecurity(t *testing.T) {
	ctx := context.Background()

	t.Run("OpenDeniedByDefault", func(t *testing.T) {
		dir := t.TempDir()
		s := newTestSession(t, &Config{WorkDir: dir})
		require.NoError(t, s.AddVariable("user_name", "Alice"))
		before := s.Snapshot()

		res, err := s.Run(ctx, "print(\"writing\")\nf = open(\"leak.txt\", \"w\")\nf.write(user_name)")
		require.NoError(t, err)
		assert.Equal(t, Result{
			Error:  "SecurityError: Use of function 'open' is forbidden by this sandbox's policy.",
			Status: StatusSecurityError,
		}, res)

		assert.NoFileExists(t, filepath.Join(dir, "leak.txt"))
		assert.Equal(t, before.Variables, s.Snapshot().Variables)
	})

	t.Run("ModulesDeniedEvenWhenOpenAllowed", func(t *testing.T) {
		s := newTestSession(t, &Config{AllowedFunctions: []string{"open"}})

		tests := []struct {
			code    string
			message string
		}{
			{"import os", "SecurityError: Import of module 'os' is forbidden."},
			{"import shutil", "SecurityError: Import of module 'shutil' is forbidden."},
			{"import subprocess", "SecurityError: Import of module 'subprocess' is forbidden."},
			{"from os import path", "SecurityError: Import from module 'os' is forbidden."},
			{"from shutil import rmtree", "SecurityError: Import from module 'shutil' is forbidden."},
			{"from subprocess import run", "SecurityError: Import from module 'subprocess' is forbidden."},
			{"import os; print(1)", "SecurityError: Import of module 'os' is forbidden."},
			{"x = 1; import os", "SecurityError: Import of module 'os' is forbidden."},
			{"if True: import os", "SecurityError: Import of module 'os' is forbidden."},
			{"from os import (path,\n    getcwd)", "SecurityError: Import from module 'os' is forbidden."},
		}
		for _, tt := range tests {
			t.Run(tt.code, func(t *testing.T) {
				res, err := s.Run(ctx, tt.code)
				require.NoError(t, err)
				assert.Equal(t, StatusSecurityError, res.Status)
				assert.Equal(t, tt.message, res.Error)
				assert.Empty(t, res.Logs)
			})
		}
	})

	t.Run("OpenAllowed", func(t *testing.T) {
		dir := t.TempDir()
		s := newTestSession(t, &Config{AllowedFunctions: []string{"open"}, WorkDir: dir})

		res, err := s.Run(ctx, "f = open(\"out.txt\", \"w\")\nf.write(\"data\")\nf.close()\n_result = \"ok\"")
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, res.Status, res.Error)
		assert.Equal(t, "ok", res.Output)

		content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
		require.NoError(t, err)
		assert.Equal(t, "data", string(content))
	})

	t.Run("Reconfigure", func(t *testing.T) {
		s := newTestSession(t, nil)
		require.NoError(t, s.Configure([]string{"open"}))
		assert.Empty(t, s.Policy().DeniedFunctions)
		assert.Equal(t, []string{"open"}, s.AllowedFunctions())

		require.NoError(t, s.Configure(nil))
		assert.Equal(t, []string{"open"}, s.Policy().DeniedFunctions)

		assert.Error(t, s.Configure([]string{""}))
		assert.Equal(t, []string{"open"}, s.Policy().DeniedFunctions)
	})
}

func TestSessionTimeout(t *testing.T) {
	s := newTestSession(t, &Config{TimeoutSec: 30})

	var pid int
	s.onSpawn = func(p int) { pid = p }

	start := time.Now()
	res, err := s.Run(context.Background(), "print(\"spinning\")\nwhile True:\n    pass", WithTimeout(500*time.Millisecond))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Nil(t, res.Output)
	assert.Contains(t, res.Error, "timed out")
	require.NotZero(t, pid)
	assert.False(t, processAlive(pid), "worker %d still running", pid)
}

func TestSessionTimeoutWaitsForTool(t *testing.T) {
	observer := &MockObserver{}
	s := newTestSession(t, nil, WithObserver(observer))
	require.NoError(t, s.AddTool("slow", func(context.Context, capability.Call) (any, error) {
		time.Sleep(800 * time.Millisecond)
		return "late", nil
	}))

	start := time.Now()
	res, err := s.Run(context.Background(), "slow()\nwhile True:\n    pass", WithTimeout(300*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Less(t, time.Since(start), exitGrace+time.Second)

	// The tool call finished and was observed before Run returned.
	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, 1, observer.toolCalls["slow"])
}

func TestSessionCancel(t *testing.T) {
	s := newTestSession(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	_, err := s.Run(ctx, "while True:\n    pass")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	require.NoError(t, s.AddVariable("items", []any{1, 2}))

	res, err := s.Run(ctx, "items.append(3)\nleftover = 1\n_result = items")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, res.Output)
	assert.Equal(t, []any{1, 2}, s.Snapshot().Variables["items"])

	res, err = s.Run(ctx, `_result = leftover`)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "leftover")

	res, err = s.Run(ctx, `_result = len(items)`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Output)
}

func TestSessionNoResult(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}
	s := newTestSession(t, &Config{WorkerPath: "/bin/true"})

	res, err := s.Run(context.Background(), `_result = 1`)
	require.NoError(t, err)
	assert.Equal(t, StatusNoResult, res.Status)
	assert.Nil(t, res.Output)
}

func TestSessionStartFailure(t *testing.T) {
	s := newTestSession(t, &Config{WorkerPath: filepath.Join(t.TempDir(), "missing")})

	_, err := s.Run(context.Background(), `_result = 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start worker")
}

func TestNewSessionFromConfig(t *testing.T) {
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			TimeoutSec:       5,
			AllowedFunctions: []string{"open"},
			WorkDir:          t.TempDir(),
		},
		Variables: map[string]any{"user_name": "Alice"},
	}
	observer := &MockObserver{}

	s, err := NewSessionFromConfig(zaptest.NewLogger(t), cfg, observer)
	require.NoError(t, err)
	assert.Empty(t, s.Policy().DeniedFunctions)
	assert.Equal(t, []string{"user_name"}, s.Snapshot().VariableNames())

	res, err := s.Run(context.Background(), `_result = user_name.upper()`)
	require.NoError(t, err)
	assert.Equal(t, "ALICE", res.Output)
	assert.Equal(t, []Status{StatusSuccess}, observer.runs)

	cfg.Sandbox.AllowedFunctions = []string{" "}
	_, err = NewSessionFromConfig(zaptest.NewLogger(t), cfg, nil)
	assert.Error(t, err)
}
