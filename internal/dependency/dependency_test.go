package dependency

import (
	"testing"

	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
)

// buildProducerConsumer builds A --(rate 4)--> B (rate 2), so A fires
// once and B fires twice per iteration (rv(A)=1, rv(B)=2).
func buildProducerConsumer(t *testing.T) (*pisdf.Graph, *firing.Handler) {
	t.Helper()
	g := pisdf.NewGraph("g")
	a, err := g.AddVertex(pisdf.Normal, "A", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.AddVertex(pisdf.Normal, "B", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(a.Index, 0, b.Index, 0, expr.Const(4), expr.Const(2), nil); err != nil {
		t.Fatal(err)
	}
	h := firing.New(nil, g, 0)
	if err := h.ResolveBRV(); err != nil {
		t.Fatal(err)
	}
	return g, h
}

func TestResolveSingleFiring(t *testing.T) {
	_, h := buildProducerConsumer(t)
	// B's second firing consumes tokens [2,4) of the edge, both produced
	// by A's single (0th) firing.
	deps, err := Resolve(h, 0, 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("got %d deps, want 1", len(deps))
	}
	d := deps[0]
	if d.FiringStart != 0 || d.FiringEnd != 0 {
		t.Fatalf("got firing range [%d,%d], want [0,0]", d.FiringStart, d.FiringEnd)
	}
	if d.MemoryStart != 2 || d.MemoryEnd != 4 {
		t.Fatalf("got memory range [%d,%d), want [2,4)", d.MemoryStart, d.MemoryEnd)
	}
	if d.Merged {
		t.Fatal("expected a single-firing dependency to not be marked merged")
	}
}

func TestResolveSpanningMultipleFirings(t *testing.T) {
	// Now invert: A rate 2 producing, C rate 4 consuming all of A's
	// output in one firing, so C depends on both of A's two firings.
	g := pisdf.NewGraph("g2")
	a, err := g.AddVertex(pisdf.Normal, "A", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := g.AddVertex(pisdf.Normal, "C", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(a.Index, 0, c.Index, 0, expr.Const(2), expr.Const(4), nil); err != nil {
		t.Fatal(err)
	}
	h := firing.New(nil, g, 0)
	if err := h.ResolveBRV(); err != nil {
		t.Fatal(err)
	}

	deps, err := Resolve(h, 0, 0, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("got %d deps, want 1", len(deps))
	}
	d := deps[0]
	if d.FiringStart != 0 || d.FiringEnd != 1 {
		t.Fatalf("got firing range [%d,%d], want [0,1]", d.FiringStart, d.FiringEnd)
	}
	if !d.Merged {
		t.Fatal("expected a multi-firing dependency to be marked merged")
	}
}

func TestResolveOutOfRangeFiringIsUnderrun(t *testing.T) {
	_, h := buildProducerConsumer(t)
	// Demanding tokens [4,8) would need A's firing 1, but rv(A)=1.
	if _, err := Resolve(h, 0, 4, 8); err == nil {
		t.Fatal("expected a buffer underrun error")
	}
}

func TestResolveNegativeWindowIsUnderrun(t *testing.T) {
	_, h := buildProducerConsumer(t)
	if _, err := Resolve(h, 0, -1, 2); err == nil {
		t.Fatal("expected a buffer underrun error for a negative window start")
	}
}

func TestResolveZeroWidthWindowIsEmpty(t *testing.T) {
	_, h := buildProducerConsumer(t)
	deps, err := Resolve(h, 0, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps != nil {
		t.Fatalf("expected no dependency records for a zero-width window, got %v", deps)
	}
}

func TestCrossInterfaceBoundary(t *testing.T) {
	top := pisdf.NewGraph("top")
	p, err := top.AddVertex(pisdf.Normal, "P", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	gv, err := top.AddVertex(pisdf.GraphType, "g", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := top.AddEdge(p.Index, 0, gv.Index, 0, expr.Const(4), expr.Const(4), nil); err != nil {
		t.Fatal(err)
	}

	sub := pisdf.NewGraph("sub")
	ifIn, err := sub.AddVertex(pisdf.InputIf, "in", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	cons, err := sub.AddVertex(pisdf.Normal, "C", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sub.AddEdge(ifIn.Index, 0, cons.Index, 0, expr.Const(4), expr.Const(2), nil); err != nil {
		t.Fatal(err)
	}
	if err := top.ConnectSubgraph(gv.Index, sub); err != nil {
		t.Fatal(err)
	}

	parent := firing.New(nil, top, 0)
	if err := parent.ResolveBRV(); err != nil {
		t.Fatal(err)
	}
	child, err := parent.ChildFor(gv.Index, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := child.ResolveBRV(); err != nil {
		t.Fatal(err)
	}

	// C's second firing consumes [2,4) of the interface's stream, which
	// is entirely backed by P's single firing in the parent graph.
	deps, err := Resolve(child, 0, 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("got %d deps, want 1", len(deps))
	}
	d := deps[0]
	if d.Owner != parent {
		t.Fatal("expected the dependency to be owned by the parent handler after crossing the interface")
	}
	if d.ProducerVertex != p.Index {
		t.Fatalf("got producer vertex %d, want %d (P)", d.ProducerVertex, p.Index)
	}
	if d.FiringStart != 0 || d.FiringEnd != 0 {
		t.Fatalf("got firing range [%d,%d], want [0,0]", d.FiringStart, d.FiringEnd)
	}
}
