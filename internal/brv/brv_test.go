package brv

import (
	"errors"
	"testing"

	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/pisdf"
)

// S1 from spec §8: chain A --(3,2)--> B.
func TestResolveChain(t *testing.T) {
	g := pisdf.NewGraph("chain")
	a, _ := g.AddVertex(pisdf.Normal, "A", 0, 1)
	b, _ := g.AddVertex(pisdf.Normal, "B", 1, 0)
	if _, err := g.AddEdge(a.Index, 0, b.Index, 0, expr.Const(3), expr.Const(2), nil); err != nil {
		t.Fatal(err)
	}
	rv, err := Resolve(g, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rv[a.Index] != 2 || rv[b.Index] != 3 {
		t.Fatalf("got rv(A)=%d rv(B)=%d, want 2, 3", rv[a.Index], rv[b.Index])
	}
}

// S2 from spec §8: triangle A->B->C, A->C with rates (2,1),(1,1),(2,1).
func TestResolveTriangle(t *testing.T) {
	g := pisdf.NewGraph("triangle")
	a, _ := g.AddVertex(pisdf.Normal, "A", 0, 2)
	b, _ := g.AddVertex(pisdf.Normal, "B", 1, 1)
	c, _ := g.AddVertex(pisdf.Normal, "C", 2, 0)
	if _, err := g.AddEdge(a.Index, 0, b.Index, 0, expr.Const(2), expr.Const(1), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(b.Index, 0, c.Index, 0, expr.Const(1), expr.Const(1), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(a.Index, 1, c.Index, 1, expr.Const(2), expr.Const(1), nil); err != nil {
		t.Fatal(err)
	}
	rv, err := Resolve(g, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rv[a.Index] != 1 || rv[b.Index] != 2 || rv[c.Index] != 2 {
		t.Fatalf("got rv(A)=%d rv(B)=%d rv(C)=%d, want 1, 2, 2", rv[a.Index], rv[b.Index], rv[c.Index])
	}
}

// S6 from spec §8: self-loop A -> A with equal rates is consistent for any rv.
func TestResolveSelfLoop(t *testing.T) {
	g := pisdf.NewGraph("selfloop")
	a, _ := g.AddVertex(pisdf.Normal, "A", 1, 1)
	delay := &pisdf.Delay{TokensExpr: expr.Const(2), Setter: -1, Getter: -1}
	if _, err := g.AddEdge(a.Index, 0, a.Index, 0, expr.Const(2), expr.Const(2), delay); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(g, nil, nil); err != nil {
		t.Fatalf("unexpected error for a consistent self-loop: %v", err)
	}
}

func TestResolveSelfLoopInconsistentRatesFails(t *testing.T) {
	g := pisdf.NewGraph("selfloop-bad")
	a, _ := g.AddVertex(pisdf.Normal, "A", 1, 1)
	if _, err := g.AddEdge(a.Index, 0, a.Index, 0, expr.Const(2), expr.Const(3), nil); err != nil {
		t.Fatal(err)
	}
	_, err := Resolve(g, nil, nil)
	if !errors.Is(err, ErrInconsistentRates) {
		t.Fatalf("got %v, want ErrInconsistentRates", err)
	}
}

func TestIdempotent(t *testing.T) {
	g := pisdf.NewGraph("chain")
	a, _ := g.AddVertex(pisdf.Normal, "A", 0, 1)
	b, _ := g.AddVertex(pisdf.Normal, "B", 1, 0)
	if _, err := g.AddEdge(a.Index, 0, b.Index, 0, expr.Const(3), expr.Const(2), nil); err != nil {
		t.Fatal(err)
	}
	rv1, err := Resolve(g, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	rv2, err := Resolve(g, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range rv1 {
		if rv1[i] != rv2[i] {
			t.Fatalf("BRV is not idempotent: rv1=%v rv2=%v", rv1, rv2)
		}
	}
}

func TestInputInterfaceBoundaryScale(t *testing.T) {
	// INPUT_IF -(5,2)-> inner consumer, with the parent declaring an
	// incoming rate of 12: 2*rv must reach >= 12, so the
	// whole component must be scaled by ceil(12/2) = 6.
	g := pisdf.NewGraph("sub")
	inIf, _ := g.AddVertex(pisdf.InputIf, "in", 0, 1)
	consumer, _ := g.AddVertex(pisdf.Normal, "consumer", 1, 0)
	if _, err := g.AddEdge(inIf.Index, 0, consumer.Index, 0, expr.Const(5), expr.Const(2), nil); err != nil {
		t.Fatal(err)
	}
	rv, err := Resolve(g, nil, []BoundaryRate{{VertexIndex: inIf.Index, ParentRate: 12}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rv[consumer.Index] != 6 {
		t.Fatalf("got rv(consumer)=%d, want 6", rv[consumer.Index])
	}
}
