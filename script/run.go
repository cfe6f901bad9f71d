package script

import (
	"errors"
	"fmt"
	"io"

	"go.starlark.net/starlark"

	"github.com/isdmx/minisandbox/capability"
)

// OutputSlot is the global whose value becomes the run's output
const OutputSlot = "_result"

// ToolFunc serves a call to a tool from sandboxed code
type ToolFunc func(call capability.Call) (any, error)

// Env is the namespace and limits a Program runs with
type Env struct {
	Variables map[string]any
	Tools     map[string]ToolFunc
	// Logs receives everything printed by the code
	Logs io.Writer
	// FS backs the open builtin; RealFileSystem when nil
	FS FileSystem
	// MaxSteps bounds the number of Starlark computation steps; zero means
	// unbounded
	MaxSteps uint64
}

// Run executes the program against env and returns the value of OutputSlot,
// or nil when the code never assigned it.
func (p *Program) Run(env Env) (any, error) {
	logs := env.Logs
	if logs == nil {
		logs = io.Discard
	}
	fs := env.FS
	if fs == nil {
		fs = RealFileSystem{}
	}

	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			_, _ = io.WriteString(logs, msg+"\n")
		},
		Load: loadModule,
	}
	if env.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(env.MaxSteps)
	}

	files := &fileTable{fs: fs}
	defer files.closeAll()

	predeclared := starlark.StringDict{
		"open": files.builtin(),
	}
	for name, value := range env.Variables {
		sv, err := ToStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		predeclared[name] = sv
	}
	for name, fn := range env.Tools {
		predeclared[name] = toolBuiltin(name, fn)
	}

	globals, err := starlark.ExecFileOptions(fileOptions, thread, filename, p.Source, predeclared)
	if err != nil {
		if isResolveError(err) {
			return nil, &SyntaxError{Err: err}
		}
		return nil, err
	}

	out, ok := globals[OutputSlot]
	if !ok {
		return nil, nil
	}
	value, err := FromStarlark(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OutputSlot, err)
	}
	return value, nil
}

func toolBuiltin(name string, fn ToolFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		call := capability.Call{Name: name, Args: make([]any, 0, len(args))}
		for i, arg := range args {
			value, err := FromStarlark(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", b.Name(), i+1, err)
			}
			call.Args = append(call.Args, value)
		}
		if len(kwargs) > 0 {
			call.Kwargs = make(map[string]any, len(kwargs))
			for _, kv := range kwargs {
				key, _ := starlark.AsString(kv[0])
				value, err := FromStarlark(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: argument %s: %w", b.Name(), key, err)
				}
				call.Kwargs[key] = value
			}
		}

		result, err := fn(call)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return ToStarlark(result)
	})
}

// Describe renders err for a run result. Evaluation errors include the
// Starlark backtrace.
func Describe(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
