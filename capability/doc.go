// Package capability provides the store of names made available to
// sandboxed code.
//
// A Store maps names to tools (host callables) and variables (plain data).
// Runs never see the live store: they receive a Snapshot taken by value when
// the run begins, so nothing a run does can change the store.
//
// Usage:
//
//	store := capability.NewStore()
//	_ = store.AddVariable("user_name", "alice")
//	_ = store.AddTool("get_weather", func(ctx context.Context, call capability.Call) (any, error) {
//	    capability.Logf(ctx, "looking up %v", call.Args)
//	    return "sunny", nil
//	})
//	snap := store.Snapshot()
package capability
