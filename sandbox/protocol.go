package sandbox

import (
	"time"

	"github.com/isdmx/minisandbox/capability"
	"github.com/isdmx/minisandbox/policy"
)

// Status is the terminal state of a run
type Status string

// Run statuses
const (
	StatusSuccess       Status = "success"
	StatusError         Status = "error"
	StatusSecurityError Status = "security_error"
	StatusTimedOut      Status = "timed_out"
	StatusNoResult      Status = "no_result"
)

// Result is the single record produced by a run. Output is only meaningful
// when Status is StatusSuccess.
type Result struct {
	Output any    `json:"output" yaml:"output"`
	Logs   string `json:"logs" yaml:"logs"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
	Status Status `json:"status" yaml:"status"`
}

// Limits bound the resources of one worker
type Limits struct {
	MaxSteps    uint64 `json:"max_steps"`
	CPUSeconds  int    `json:"cpu_seconds"`
	MemoryMB    int    `json:"memory_mb"`
	MaxLogBytes int    `json:"max_log_bytes"`
}

// ExecutionRequest is everything a worker needs to run code. It is built
// fresh for each run and copied onto the worker's stdin.
type ExecutionRequest struct {
	RunID     string         `json:"run_id"`
	Code      string         `json:"code"`
	Policy    policy.Policy  `json:"policy"`
	Variables map[string]any `json:"variables"`
	Tools     []string       `json:"tools"`
	Timeout   time.Duration  `json:"timeout"`
	Limits    Limits         `json:"limits"`
}

// frame is a message on the result channel, worker to supervisor. Exactly
// one of the fields is set.
type frame struct {
	Call   *toolCall `json:"call,omitempty"`
	Result *Result   `json:"result,omitempty"`
}

type toolCall struct {
	ID   uint64          `json:"id"`
	Call capability.Call `json:"call"`
}

// toolReply answers a toolCall on the worker's stdin
type toolReply struct {
	ID    uint64 `json:"id"`
	Value any    `json:"value"`
	Logs  string `json:"logs,omitempty"`
	Error string `json:"error,omitempty"`
}
