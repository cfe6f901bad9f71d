// Package policy provides static security analysis of sandboxed code.
//
// The policy package decides whether a code fragment may run. It works on a
// small, parser-independent syntax tree made of Call, Import, ImportFrom and
// Other nodes, so any front-end that can lower its own AST into Node values
// can be analyzed with the same rules.
//
// A Policy is deny-by-default for callables and allow-by-exception: the
// default denied functions minus an explicit allow list. The denied module
// set is fixed and cannot be relaxed by the allow list.
//
// Only calls whose target is a bare name are checked. A denied function
// reached through an attribute, a subscript or another name it was assigned
// to is not detected; the analyzer is a guard rail, not a boundary.
//
// Usage:
//
//	p, err := policy.New([]string{"open"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	verdict := policy.Analyze(root, p)
//	if !verdict.Safe {
//	    fmt.Println(verdict.Violation)
//	}
package policy
