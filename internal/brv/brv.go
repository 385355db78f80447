// Package brv computes the Basic Repetition Vector of a parameterized
// dataflow graph: the number of times each vertex must fire in one graph
// iteration so that token production matches consumption on every edge.
package brv

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/pisdf"
)

// ErrInconsistentRates is returned when the edge-consistency check fails
// for some non-delay internal edge after the update pass.
var ErrInconsistentRates = errors.New("inconsistent rates")

// BoundaryRate tells Resolve the rate known on the *parent* side of one of
// g's interface vertices, so that the update pass (spec §4.3 step 2) can
// scale the component up if the interface vertex's own component doesn't
// yet produce/consume enough tokens to satisfy it. Callers that only need
// the base LCM computation for a self-contained graph (no subgraph
// nesting) can pass a nil slice.
type BoundaryRate struct {
	VertexIndex int
	ParentRate  int64
}

// Resolve computes the repetition count of every vertex in g. Interface
// vertices (InputIf/OutputIf) are not part of the LCM walk themselves and
// always get repetition count 1; they exist only as anchors for the
// update pass via boundary.
func Resolve(g *pisdf.Graph, params []int64, boundary []BoundaryRate) ([]uint32, error) {
	n := len(g.Vertices)
	rv := make([]uint32, n)
	visited := make([]bool, n)

	for i, v := range g.Vertices {
		if isInterfaceVertex(v.Type) {
			rv[i] = 1
			visited[i] = true
		}
	}

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		component, ratio, err := walkComponent(g, params, start, visited)
		if err != nil {
			return nil, err
		}
		if err := applyComponentRV(rv, component, ratio); err != nil {
			return nil, err
		}
	}

	if err := updateForBoundaries(g, params, rv, boundary); err != nil {
		return nil, err
	}

	if err := checkConsistency(g, params, rv); err != nil {
		return nil, err
	}

	return rv, nil
}

func isInterfaceVertex(t pisdf.VertexType) bool {
	return t == pisdf.InputIf || t == pisdf.OutputIf
}

// walkComponent performs the spanning-tree walk of step 1: starting from
// start, follow every internal (non-interface-crossing) edge, maintaining
// a rational repetition ratio relative to the root.
func walkComponent(g *pisdf.Graph, params []int64, start int, visited []bool) ([]int, map[int]*big.Rat, error) {
	ratio := map[int]*big.Rat{start: big.NewRat(1, 1)}
	visited[start] = true
	queue := []int{start}
	var component []int

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		component = append(component, u)
		vtx := g.Vertex(u)

		for _, eIdx := range concat(vtx.InputEdges, vtx.OutputEdges) {
			if eIdx == -1 {
				continue
			}
			e := g.Edge(eIdx)
			if e.SourceVertex == e.SinkVertex {
				continue // self-loop: handled separately, no ratio propagation
			}
			other := otherEndpoint(e, u)
			if isInterfaceVertex(g.Vertex(other).Type) {
				continue // boundary edge: excluded from the walk
			}
			if visited[other] {
				continue
			}
			rU, err := expr.Eval(e.SourceRate, params)
			if err != nil {
				return nil, nil, fmt.Errorf("evaluating source rate of edge %d: %w", e.Index, err)
			}
			rV, err := expr.Eval(e.SinkRate, params)
			if err != nil {
				return nil, nil, fmt.Errorf("evaluating sink rate of edge %d: %w", e.Index, err)
			}
			if rU <= 0 || rV <= 0 {
				return nil, nil, fmt.Errorf("%w: edge %d has a non-positive rate (%d, %d)", ErrInconsistentRates, e.Index, rU, rV)
			}
			var next *big.Rat
			if e.SourceVertex == u {
				// ratio(other) = ratio(u) * (r_u / r_v)
				next = new(big.Rat).Mul(ratio[u], big.NewRat(rU, rV))
			} else {
				// edge direction is other -> u: ratio(other) = ratio(u) * (r_v / r_u)
				next = new(big.Rat).Mul(ratio[u], big.NewRat(rV, rU))
			}
			ratio[other] = next
			visited[other] = true
			queue = append(queue, other)
		}
	}
	return component, ratio, nil
}

func applyComponentRV(rv []uint32, component []int, ratio map[int]*big.Rat) error {
	lcm := big.NewInt(1)
	for _, u := range component {
		lcm = lcmInt(lcm, ratio[u].Denom())
	}
	for _, u := range component {
		num := new(big.Int).Mul(lcm, ratio[u].Num())
		val := new(big.Int).Div(num, ratio[u].Denom())
		if !val.IsInt64() || val.Int64() < 0 || val.Int64() > (1<<32-1) {
			return fmt.Errorf("%w: computed repetition count for vertex %d overflows u32", ErrInconsistentRates, u)
		}
		rv[u] = uint32(val.Int64())
	}
	return nil
}

func lcmInt(a, b *big.Int) *big.Int {
	if b.Sign() == 0 {
		return new(big.Int).Set(a)
	}
	g := new(big.Int).GCD(nil, nil, new(big.Int).Abs(a), new(big.Int).Abs(b))
	result := new(big.Int).Div(a, g)
	result.Mul(result, b)
	return result.Abs(result)
}

// updateForBoundaries performs step 2: for every interface vertex with a
// known parent-side rate, scale its whole component up if the inner side
// doesn't yet move enough tokens to satisfy the parent.
func updateForBoundaries(g *pisdf.Graph, params []int64, rv []uint32, boundary []BoundaryRate) error {
	for _, b := range boundary {
		v := g.Vertex(b.VertexIndex)
		if !isInterfaceVertex(v.Type) {
			return fmt.Errorf("%w: boundary rate given for non-interface vertex %q", ErrInconsistentRates, v.Name)
		}
		var edgeIdx, innerVertex int
		var innerRateExpr expr.Expr
		switch v.Type {
		case pisdf.InputIf:
			edgeIdx = v.OutputEdges[0]
			e := g.Edge(edgeIdx)
			innerVertex = e.SinkVertex
			innerRateExpr = e.SinkRate
		case pisdf.OutputIf:
			edgeIdx = v.InputEdges[0]
			e := g.Edge(edgeIdx)
			innerVertex = e.SourceVertex
			innerRateExpr = e.SourceRate
		}
		q, err := expr.Eval(innerRateExpr, params)
		if err != nil {
			return err
		}
		if q <= 0 {
			return fmt.Errorf("%w: interface edge %d has a non-positive inner rate %d", ErrInconsistentRates, edgeIdx, q)
		}
		produced := q * int64(rv[innerVertex])
		if produced < b.ParentRate {
			factor := ceilDiv(b.ParentRate, produced)
			scaleComponentContaining(g, rv, innerVertex, factor)
		}
	}
	return nil
}

func ceilDiv(a, b int64) int64 {
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

// scaleComponentContaining multiplies the repetition count of every vertex
// reachable from root via non-interface-crossing edges (root's component)
// by factor.
func scaleComponentContaining(g *pisdf.Graph, rv []uint32, root int, factor int64) {
	visited := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		rv[u] = uint32(int64(rv[u]) * factor)
		vtx := g.Vertex(u)
		for _, eIdx := range concat(vtx.InputEdges, vtx.OutputEdges) {
			if eIdx == -1 {
				continue
			}
			e := g.Edge(eIdx)
			if e.SourceVertex == e.SinkVertex {
				continue
			}
			other := otherEndpoint(e, u)
			if isInterfaceVertex(g.Vertex(other).Type) || visited[other] {
				continue
			}
			visited[other] = true
			queue = append(queue, other)
		}
	}
}

// checkConsistency verifies invariant 1 (spec §8): for every non-delay
// internal edge, r_u * rv(u) == r_v * rv(v). Self-loops instead require
// r_u == r_v, independent of rv.
func checkConsistency(g *pisdf.Graph, params []int64, rv []uint32) error {
	for _, e := range g.Edges {
		if isInterfaceVertex(g.Vertex(e.SourceVertex).Type) || isInterfaceVertex(g.Vertex(e.SinkVertex).Type) {
			continue
		}
		rU, err := expr.Eval(e.SourceRate, params)
		if err != nil {
			return err
		}
		rV, err := expr.Eval(e.SinkRate, params)
		if err != nil {
			return err
		}
		if e.SourceVertex == e.SinkVertex {
			if rU != rV {
				return fmt.Errorf("%w: self-loop edge %d requires equal source/sink rates, got %d and %d", ErrInconsistentRates, e.Index, rU, rV)
			}
			continue
		}
		if e.HasDelay() {
			continue
		}
		lhs := rU * int64(rv[e.SourceVertex])
		rhs := rV * int64(rv[e.SinkVertex])
		if lhs != rhs {
			return fmt.Errorf("%w: edge %d: %d*%d != %d*%d", ErrInconsistentRates, e.Index, rU, rv[e.SourceVertex], rV, rv[e.SinkVertex])
		}
	}
	return nil
}

func otherEndpoint(e *pisdf.Edge, u int) int {
	if e.SourceVertex == u {
		return e.SinkVertex
	}
	return e.SourceVertex
}

func concat(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
