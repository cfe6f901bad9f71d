package script

import (
	"fmt"
	"maps"
	"slices"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// modules are the only modules sandboxed code can load
var modules = map[string]*starlarkstruct.Module{
	"json": starjson.Module,
	"math": starmath.Module,
	"time": startime.Module,
}

// Modules returns the sorted names of the loadable modules
func Modules() []string {
	return slices.Sorted(maps.Keys(modules))
}

func loadModule(_ *starlark.Thread, name string) (starlark.StringDict, error) {
	m, ok := modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q not found", name)
	}

	members := make(starlark.StringDict, len(m.Members)+1)
	maps.Copy(members, m.Members)
	members[ModuleSymbol] = m
	return members, nil
}
