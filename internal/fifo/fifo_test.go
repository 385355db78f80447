package fifo

import (
	"testing"

	"github.com/spider2/runtime/internal/dependency"
	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
)

// forkJoinGraph builds A -(4)-> Fork -(2,2)-> [B1, B2], matching spec
// §4.6 scenario S3's shape, so it doubles as a realistic Fork/Join-view
// source once B1 and B2 are themselves fed back into a Join.
func forkJoinGraph(t *testing.T) (*firing.Handler, *pisdf.Vertex, *pisdf.Vertex, *pisdf.Vertex, int) {
	t.Helper()
	g := pisdf.NewGraph("g")
	a, err := g.AddVertex(pisdf.Normal, "A", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	fork, err := g.AddVertex(pisdf.Fork, "Fork", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	join, err := g.AddVertex(pisdf.Join, "Join", 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	aToFork, err := g.AddEdge(a.Index, 0, fork.Index, 0, expr.Const(4), expr.Const(4), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(fork.Index, 0, join.Index, 0, expr.Const(2), expr.Const(2), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(fork.Index, 1, join.Index, 1, expr.Const(2), expr.Const(2), nil); err != nil {
		t.Fatal(err)
	}
	h := firing.New(nil, g, 0)
	if err := h.ResolveBRV(); err != nil {
		t.Fatal(err)
	}
	return h, a, fork, join, aToFork.Index
}

func TestAllocateForkSlicesSharedInputContiguously(t *testing.T) {
	h, _, fork, _, aToFork := forkJoinGraph(t)
	a := NewAllocator()

	deps, err := dependency.Resolve(h, aToFork, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 {
		t.Fatalf("expected 1 dependency record, got %d", len(deps))
	}

	input, outputs, err := a.AllocateFork(h, fork, deps[0], []int{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if input.Attribute != RWOwn || input.Offset != 0 || input.Size != 4 {
		t.Fatalf("unexpected fork input view: %+v", input)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 output views, got %d", len(outputs))
	}
	if outputs[0].Address != input.Address || outputs[0].Offset != 0 || outputs[0].Size != 2 || outputs[0].Attribute != RSame {
		t.Fatalf("unexpected fork output 0: %+v", outputs[0])
	}
	if outputs[1].Address != input.Address || outputs[1].Offset != 2 || outputs[1].Size != 2 || outputs[1].Attribute != RSame {
		t.Fatalf("unexpected fork output 1: %+v", outputs[1])
	}
}

func TestAllocateJoinBuildsFreshBufferWithWSameInputs(t *testing.T) {
	h, _, fork, join, aToFork := forkJoinGraph(t)
	a := NewAllocator()

	deps, err := dependency.Resolve(h, aToFork, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	_, outputs, err := a.AllocateFork(h, fork, deps[0], []int{1, 1})
	if err != nil {
		t.Fatal(err)
	}

	// Simulate resolving Join's two input dependencies directly against
	// Fork's output edges (as dependency.Resolve would for a consumer
	// wired straight onto Fork's outputs).
	inDep0, err := dependency.Resolve(h, join.InputEdges[0], 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	inDep1, err := dependency.Resolve(h, join.InputEdges[1], 0, 2)
	if err != nil {
		t.Fatal(err)
	}

	inputs, output, err := a.AllocateJoin(h, join, []dependency.ExecDependencyInfo{inDep0[0], inDep1[0]}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if output.Attribute != RWOwn || output.Size != 4 || output.Count != 3 {
		t.Fatalf("unexpected join output: %+v", output)
	}
	if len(inputs) != 2 {
		t.Fatalf("expected 2 input views, got %d", len(inputs))
	}
	if inputs[0].Address != output.Address || inputs[0].Offset != 0 || inputs[0].Size != 2 || inputs[0].Attribute != WSame {
		t.Fatalf("unexpected join input 0: %+v", inputs[0])
	}
	if inputs[1].Address != output.Address || inputs[1].Offset != 2 || inputs[1].Size != 2 || inputs[1].Attribute != WSame {
		t.Fatalf("unexpected join input 1: %+v", inputs[1])
	}
	_ = outputs
}

func TestAllocateNormalMergesMultiFiringWindow(t *testing.T) {
	g := pisdf.NewGraph("g")
	p, err := g.AddVertex(pisdf.Normal, "P", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := g.AddVertex(pisdf.Normal, "C", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	edge, err := g.AddEdge(p.Index, 0, c.Index, 0, expr.Const(2), expr.Const(6), nil)
	if err != nil {
		t.Fatal(err)
	}
	h := firing.New(nil, g, 0)
	if err := h.ResolveBRV(); err != nil {
		t.Fatal(err)
	}
	if h.BRV[p.Index] != 3 {
		t.Fatalf("expected producer BRV 3, got %d", h.BRV[p.Index])
	}

	deps, err := dependency.Resolve(h, edge.Index, 0, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || !deps[0].Merged {
		t.Fatalf("expected a single merged dependency spanning all 3 firings, got %+v", deps)
	}

	a := NewAllocator()
	views, err := a.AllocateNormal(deps, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if views[0].Attribute != RMerge || views[0].Offset != 0 || views[0].Size != 6 || views[0].Count != 1 {
		t.Fatalf("unexpected merged view: %+v", views[0])
	}
}

func TestAllocatePersistentDelayReservesFixedBuffer(t *testing.T) {
	g := pisdf.NewGraph("g")
	setter, err := g.AddVertex(pisdf.Normal, "Setter", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	p, err := g.AddVertex(pisdf.Normal, "P", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := g.AddVertex(pisdf.Normal, "C", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	delay := &pisdf.Delay{TokensExpr: expr.Const(4), Setter: setter.Index, Getter: c.Index, Persistent: true}
	edge, err := g.AddEdge(p.Index, 0, c.Index, 0, expr.Const(4), expr.Const(4), delay)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge(setter.Index, 0, c.Index, 1, expr.Const(4), expr.Const(4), nil); err != nil {
		t.Fatal(err)
	}

	h := firing.New(nil, g, 0)
	if err := h.ResolveBRV(); err != nil {
		t.Fatal(err)
	}

	a := NewAllocator()
	if err := a.AllocatePersistentDelays(h); err != nil {
		t.Fatal(err)
	}

	bs, err := a.bufferFor(h, edge.Index)
	if err != nil {
		t.Fatal(err)
	}
	if bs.size != 4 {
		t.Fatalf("expected persistent reservation of size 4, got %d", bs.size)
	}
	// A second call must not grow the arena again.
	addrBefore := a.nextAddress
	if err := a.AllocatePersistentDelays(h); err != nil {
		t.Fatal(err)
	}
	if a.nextAddress != addrBefore {
		t.Fatalf("re-running AllocatePersistentDelays grew the arena: %d -> %d", addrBefore, a.nextAddress)
	}
}

func TestAttributeString(t *testing.T) {
	cases := map[Attribute]string{
		RWOwn:  "RW_OWN",
		RWExt:  "RW_EXT",
		RMerge: "R_MERGE",
		RSame:  "R_SAME",
		WSame:  "W_SAME",
	}
	for attr, want := range cases {
		if got := attr.String(); got != want {
			t.Errorf("Attribute(%d).String() = %q, want %q", int(attr), got, want)
		}
	}
}
