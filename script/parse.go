package script

import (
	"errors"

	"go.starlark.net/resolve"
	"go.starlark.net/syntax"

	"github.com/isdmx/minisandbox/policy"
)

const filename = "main.star"

// fileOptions relaxes Starlark towards Python: top-level loops and ifs,
// global reassignment, sets and recursion are all allowed.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// SyntaxError reports code that could not be parsed or resolved
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return "SyntaxError: " + e.Err.Error()
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Program is parsed code ready for analysis and execution
type Program struct {
	// Source is the code after import lowering
	Source string
	// Tree is the parser-independent view used by the policy analyzer
	Tree *policy.Node
}

// Parse lowers imports in code, parses it and builds its policy tree
func Parse(code string) (*Program, error) {
	source := lowerImports(code)

	f, err := fileOptions.Parse(filename, source, 0)
	if err != nil {
		return nil, &SyntaxError{Err: err}
	}

	root := &policy.Node{Kind: policy.KindOther}
	for _, stmt := range f.Stmts {
		root.Children = append(root.Children, buildTree(stmt))
	}
	return &Program{
		Source: source,
		Tree:   root,
	}, nil
}

// buildTree converts n and everything below it. Every statement and
// expression kind the parser produces has a case here; a nil child is
// skipped.
func buildTree(n syntax.Node) *policy.Node {
	node := toNode(n)
	add := func(children ...syntax.Node) {
		for _, c := range children {
			if c == nil {
				continue
			}
			node.Children = append(node.Children, buildTree(c))
		}
	}
	addExprs := func(xs []syntax.Expr) {
		for _, x := range xs {
			add(x)
		}
	}
	addStmts := func(stmts []syntax.Stmt) {
		for _, s := range stmts {
			add(s)
		}
	}

	switch n := n.(type) {
	// statements
	case *syntax.AssignStmt:
		add(n.LHS, n.RHS)
	case *syntax.BranchStmt:
	case *syntax.DefStmt:
		add(n.Name)
		addExprs(n.Params)
		addStmts(n.Body)
	case *syntax.ExprStmt:
		add(n.X)
	case *syntax.ForStmt:
		add(n.Vars, n.X)
		addStmts(n.Body)
	case *syntax.WhileStmt:
		add(n.Cond)
		addStmts(n.Body)
	case *syntax.IfStmt:
		add(n.Cond)
		addStmts(n.True)
		addStmts(n.False)
	case *syntax.LoadStmt:
	case *syntax.ReturnStmt:
		add(n.Result)

	// expressions
	case *syntax.BinaryExpr:
		add(n.X, n.Y)
	case *syntax.CallExpr:
		add(n.Fn)
		addExprs(n.Args)
	case *syntax.Comprehension:
		add(n.Body)
		add(n.Clauses...)
	case *syntax.ForClause:
		add(n.Vars, n.X)
	case *syntax.IfClause:
		add(n.Cond)
	case *syntax.CondExpr:
		add(n.Cond, n.True, n.False)
	case *syntax.DictEntry:
		add(n.Key, n.Value)
	case *syntax.DictExpr:
		addExprs(n.List)
	case *syntax.DotExpr:
		add(n.X, n.Name)
	case *syntax.Ident, *syntax.Literal:
	case *syntax.IndexExpr:
		add(n.X, n.Y)
	case *syntax.LambdaExpr:
		addExprs(n.Params)
		add(n.Body)
	case *syntax.ListExpr:
		addExprs(n.List)
	case *syntax.ParenExpr:
		add(n.X)
	case *syntax.SliceExpr:
		add(n.X, n.Lo, n.Hi, n.Step)
	case *syntax.TupleExpr:
		addExprs(n.List)
	case *syntax.UnaryExpr:
		add(n.X)
	}

	return node
}

func toNode(n syntax.Node) *policy.Node {
	start, _ := n.Span()
	line := int(start.Line)

	switch n := n.(type) {
	case *syntax.CallExpr:
		node := &policy.Node{Kind: policy.KindCall, Line: line}
		if id, ok := n.Fn.(*syntax.Ident); ok {
			node.Callee = id.Name
		}
		return node
	case *syntax.LoadStmt:
		kind := policy.KindImportFrom
		for _, from := range n.From {
			if from.Name == ModuleSymbol {
				kind = policy.KindImport
			}
		}
		module, _ := n.Module.Value.(string)
		return &policy.Node{Kind: kind, Module: module, Line: line}
	default:
		return &policy.Node{Kind: policy.KindOther, Line: line}
	}
}

func isResolveError(err error) bool {
	var list resolve.ErrorList
	return errors.As(err, &list)
}
