// Package script provides the Starlark front-end and runtime used to run
// sandboxed code.
//
// Code is written in Starlark, a deterministic Python dialect. Python-style
// import lines are lowered to Starlark load statements before parsing so the
// policy package sees them as Import and ImportFrom nodes. The parsed file is
// converted into a policy.Node tree for analysis, and Program.Run executes it
// against an explicit namespace: variables, tool builtins and the open
// builtin. Everything printed goes to the run's log writer, and the value
// bound to OutputSlot is returned as the run's output.
//
// Usage:
//
//	prog, err := script.Parse(`_result = 10 + 5`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := prog.Run(script.Env{Logs: &buf})
package script
