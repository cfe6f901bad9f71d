package policy

// Kind tags a syntax tree node for the analyzer
type Kind int

// Node kinds understood by the analyzer
const (
	KindOther Kind = iota
	KindCall
	KindImport
	KindImportFrom
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "Call"
	case KindImport:
		return "Import"
	case KindImportFrom:
		return "ImportFrom"
	default:
		return "Other"
	}
}

// Node is a front-end independent syntax tree node.
//
// For KindCall, Callee holds the called name only when the call target is a
// bare identifier; calls through attribute access, indexing or any other
// expression leave it empty. For KindImport and KindImportFrom, Module holds
// the imported module name.
type Node struct {
	Kind     Kind
	Callee   string
	Module   string
	Line     int
	Children []*Node
}

// Visitor receives nodes during a Walk. Returning false from any method
// stops the walk.
type Visitor interface {
	VisitCall(n *Node) bool
	VisitImport(n *Node) bool
	VisitImportFrom(n *Node) bool
	VisitOther(n *Node) bool
}

// Walk visits n and its descendants in depth-first order, dispatching on
// node kind. It reports whether the walk ran to completion.
func Walk(n *Node, v Visitor) bool {
	if n == nil {
		return true
	}

	var cont bool
	switch n.Kind {
	case KindCall:
		cont = v.VisitCall(n)
	case KindImport:
		cont = v.VisitImport(n)
	case KindImportFrom:
		cont = v.VisitImportFrom(n)
	default:
		cont = v.VisitOther(n)
	}
	if !cont {
		return false
	}

	for _, child := range n.Children {
		if !Walk(child, v) {
			return false
		}
	}
	return true
}
