package pisdf

import "github.com/spider2/runtime/internal/expr"

// Delay is attached to an Edge and describes the initial tokens present on
// it at the start of a graph iteration.
type Delay struct {
	// TokensExpr evaluates to the number of tokens held by the delay.
	TokensExpr expr.Expr

	// Setter, if >= 0, is the index of the vertex that produces the
	// delay's initial tokens. -1 means no setter (tokens come from
	// nowhere, e.g. a persistent delay surviving from a previous
	// iteration).
	Setter int
	// Getter, if >= 0, is the index of the vertex that consumes the
	// delay's final tokens at the end of an iteration.
	Getter int

	// Persistent delays keep their buffer allocated across iterations
	// instead of being reclaimed at the end of each one.
	Persistent bool
}

// Edge is a directed token channel connecting one vertex's output port to
// another vertex's input port, both within the same Graph.
type Edge struct {
	Index int

	SourceVertex int
	SourcePort   int
	SinkVertex   int
	SinkPort     int

	SourceRate expr.Expr
	SinkRate   expr.Expr

	Delay *Delay
}

// HasDelay reports whether the edge carries initial tokens.
func (e *Edge) HasDelay() bool { return e.Delay != nil }
