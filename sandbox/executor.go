package sandbox

import (
	"bytes"
	"fmt"
	"io"

	"github.com/isdmx/minisandbox/capability"
	"github.com/isdmx/minisandbox/policy"
	"github.com/isdmx/minisandbox/script"
)

// ToolInvoker serves tool calls made by code running in a worker
type ToolInvoker interface {
	Invoke(call capability.Call) (value any, logs string, err error)
}

// Analyze parses code and checks it against p. A parse failure is returned
// as an error, never as a verdict.
func Analyze(code string, p policy.Policy) (verdict policy.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict, err = policy.Verdict{}, fmt.Errorf("internal error: %v", r)
		}
	}()

	prog, err := script.Parse(code)
	if err != nil {
		return policy.Verdict{}, err
	}
	return policy.Analyze(prog.Tree, p), nil
}

// Execute analyzes and, when permitted, runs req. It always returns exactly
// one Result and never panics.
func Execute(req ExecutionRequest, tools ToolInvoker) (res Result) {
	var buf bytes.Buffer
	logs := newLimitedWriter(&buf, req.Limits.MaxLogBytes)

	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Logs:   buf.String(),
				Error:  fmt.Sprintf("internal error: %v", r),
				Status: StatusError,
			}
		}
	}()

	prog, err := script.Parse(req.Code)
	if err != nil {
		return Result{Error: err.Error(), Status: StatusError}
	}

	if verdict := policy.Analyze(prog.Tree, req.Policy); !verdict.Safe {
		return Result{Error: verdict.Violation, Status: StatusSecurityError}
	}

	env := script.Env{
		Variables: req.Variables,
		Tools:     make(map[string]script.ToolFunc, len(req.Tools)),
		Logs:      logs,
		MaxSteps:  req.Limits.MaxSteps,
	}
	for _, name := range req.Tools {
		env.Tools[name] = func(call capability.Call) (any, error) {
			value, toolLogs, err := tools.Invoke(call)
			_, _ = io.WriteString(logs, toolLogs)
			return value, err
		}
	}

	output, err := prog.Run(env)
	if err != nil {
		return Result{Logs: buf.String(), Error: script.Describe(err), Status: StatusError}
	}

	return Result{Output: output, Logs: buf.String(), Status: StatusSuccess}
}
