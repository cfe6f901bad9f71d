package policy

import (
	"fmt"
	"slices"
	"strings"
)

var (
	defaultDeniedFunctions = []string{"open"}
	deniedModules          = []string{"os", "shutil", "subprocess"}
)

// DefaultDeniedFunctions returns the deny set every policy starts from
func DefaultDeniedFunctions() []string {
	return slices.Clone(defaultDeniedFunctions)
}

// DeniedModules returns the modules that are never importable, whatever the
// allow list says
func DeniedModules() []string {
	return slices.Clone(deniedModules)
}

// Policy describes what a code fragment may call and import
type Policy struct {
	DeniedFunctions []string `json:"denied_functions"`
	DeniedModules   []string `json:"denied_modules"`
}

// New builds a Policy from an allow list. An empty allow list yields the
// strictest policy. The allow list only shrinks the function deny set.
func New(allowed []string) (Policy, error) {
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name == "" {
			return Policy{}, fmt.Errorf("allowed function name must not be empty")
		}
		allow[name] = true
	}

	denied := make([]string, 0, len(defaultDeniedFunctions))
	for _, name := range defaultDeniedFunctions {
		if !allow[name] {
			denied = append(denied, name)
		}
	}
	slices.Sort(denied)

	return Policy{
		DeniedFunctions: denied,
		DeniedModules:   DeniedModules(),
	}, nil
}

// DeniesFunction reports whether a bare call to name is forbidden
func (p Policy) DeniesFunction(name string) bool {
	return slices.Contains(p.DeniedFunctions, name)
}

// DeniesModule reports whether importing module is forbidden. Dotted
// module paths are matched on their root package as well.
func (p Policy) DeniesModule(module string) bool {
	root, _, _ := strings.Cut(module, ".")
	return slices.Contains(p.DeniedModules, module) || slices.Contains(p.DeniedModules, root)
}
