package policy

import "fmt"

// Verdict is the outcome of analyzing a syntax tree against a Policy
type Verdict struct {
	Safe      bool
	Violation string
}

// Analyze walks root and returns the first violation of p it finds.
//
// Only calls whose target is a bare name are checked against the denied
// functions. A denied function reached through attribute access or an
// alias is not detected.
func Analyze(root *Node, p Policy) Verdict {
	a := &analyzer{policy: p}
	Walk(root, a)
	if a.violation != "" {
		return Verdict{Safe: false, Violation: a.violation}
	}
	return Verdict{Safe: true}
}

type analyzer struct {
	policy    Policy
	violation string
}

func (a *analyzer) VisitCall(n *Node) bool {
	if n.Callee != "" && a.policy.DeniesFunction(n.Callee) {
		a.violation = fmt.Sprintf("SecurityError: Use of function '%s' is forbidden by this sandbox's policy.", n.Callee)
		return false
	}
	return true
}

func (a *analyzer) VisitImport(n *Node) bool {
	if a.policy.DeniesModule(n.Module) {
		a.violation = fmt.Sprintf("SecurityError: Import of module '%s' is forbidden.", n.Module)
		return false
	}
	return true
}

func (a *analyzer) VisitImportFrom(n *Node) bool {
	if a.policy.DeniesModule(n.Module) {
		a.violation = fmt.Sprintf("SecurityError: Import from module '%s' is forbidden.", n.Module)
		return false
	}
	return true
}

func (*analyzer) VisitOther(*Node) bool {
	return true
}
