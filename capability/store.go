package capability

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Call describes one invocation of a tool from sandboxed code
type Call struct {
	Name   string         `json:"name"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Arg returns the i-th positional argument, or nil when absent
func (c Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Tool is a host callable exposed to sandboxed code under a name. ctx is
// cancelled when the run times out or is cancelled; a tool that ignores it
// holds up the end of the run for at most a short grace period.
type Tool func(ctx context.Context, call Call) (any, error)

// Store holds the tools and variables of a session. It is safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	variables map[string]any
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		tools:     make(map[string]Tool),
		variables: make(map[string]any),
	}
}

// AddTool registers fn under name, replacing any tool or variable of that name
func (s *Store) AddTool(name string, fn Tool) error {
	if err := validateName(name); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("tool %q must not be nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.variables, name)
	s.tools[name] = fn
	return nil
}

// AddVariable registers value under name, replacing any tool or variable of
// that name
func (s *Store) AddVariable(name string, value any) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, name)
	s.variables[name] = value
	return nil
}

// Put registers value as a tool when it is one, as a variable otherwise
func (s *Store) Put(name string, value any) error {
	switch fn := value.(type) {
	case Tool:
		return s.AddTool(name, fn)
	case func(context.Context, Call) (any, error):
		return s.AddTool(name, fn)
	default:
		return s.AddVariable(name, value)
	}
}

// Names returns the sorted names of all tools and variables
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := slices.Collect(maps.Keys(s.tools))
	names = append(names, slices.Collect(maps.Keys(s.variables))...)
	slices.Sort(names)
	return names
}

// Snapshot copies the current contents of the store. Variables are deep
// copied so later changes on either side are not shared.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Tools:     maps.Clone(s.tools),
		Variables: make(map[string]any, len(s.variables)),
	}
	for name, value := range s.variables {
		snap.Variables[name] = deepCopy(value)
	}
	return snap
}

// Snapshot is a point-in-time copy of a Store
type Snapshot struct {
	Tools     map[string]Tool
	Variables map[string]any
}

// ToolNames returns the sorted tool names of the snapshot
func (s Snapshot) ToolNames() []string {
	names := slices.Collect(maps.Keys(s.Tools))
	slices.Sort(names)
	return names
}

// VariableNames returns the sorted variable names of the snapshot
func (s Snapshot) VariableNames() []string {
	names := slices.Collect(maps.Keys(s.Variables))
	slices.Sort(names)
	return names
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("capability name must not be empty")
	}
	return nil
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		return slices.Clone(v)
	case []byte:
		return slices.Clone(v)
	case map[string]string:
		return maps.Clone(v)
	default:
		return v
	}
}

type logWriterKey struct{}

// WithLogWriter returns a context whose tool log output goes to w
func WithLogWriter(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, logWriterKey{}, w)
}

// LogWriter returns the run log writer carried by ctx, or io.Discard
func LogWriter(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(logWriterKey{}).(io.Writer); ok && w != nil {
		return w
	}
	return io.Discard
}

// Logf writes a line to the run logs of the tool call carried by ctx
func Logf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	_, _ = io.WriteString(LogWriter(ctx), msg)
}
