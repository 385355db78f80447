package pisdf

import "github.com/spider2/runtime/internal/expr"

// ParamKind is the closed set of parameter variants.
type ParamKind int

const (
	// StaticParam carries a fixed value decided at construction time.
	StaticParam ParamKind = iota
	// DynamicParam carries a value resolved from an expression at
	// construction, or overwritten later by a configuration vertex's
	// output.
	DynamicParam
	// InheritedParam is a weak reference to a parameter of the enclosing
	// graph, resolved by lookup rather than by expression.
	InheritedParam
)

// Param is one entry of a Graph's parameter table, identified by its Index
// within that table. Parameter indices are contiguous [0,n) and stable for
// the graph's lifetime.
type Param struct {
	Index int
	Name  string
	Kind  ParamKind

	// Value is the fixed value of a StaticParam. It stays zero for
	// DynamicParam and InheritedParam: their per-iteration values are
	// resolved into each firing.Handler's own parameter table and are not
	// written back here.
	Value int64

	// Expr is the construction-time expression for a DynamicParam whose
	// value is not (yet) overridden by a configuration vertex. Nil for
	// StaticParam and InheritedParam.
	Expr expr.Expr

	// InheritIndex is, for an InheritedParam, the index of the referenced
	// parameter in the parent graph.
	InheritIndex int

	// set reports whether Value holds a resolved value; it is true only
	// for a StaticParam, whose Value is fixed at construction.
	set bool
}

// Dynamic reports whether this parameter's value may change during an
// iteration, judged by its kind alone: false for a StaticParam, true for
// every DynamicParam and InheritedParam. It does not track whether a
// configuration vertex has already fixed the value for the current
// iteration, and it does not look at the parameter an InheritedParam
// refers to (Graph.IsFullyStatic does follow that reference).
func (p *Param) Dynamic() bool {
	return p.Kind != StaticParam
}

// Resolved reports whether Value is currently known.
func (p *Param) Resolved() bool { return p.set }
