// Package pisdf implements the in-memory graph model of a parameterized
// dataflow application: vertices, edges with symbolic rates and optional
// delays, parameters, and subgraph nesting.
//
// Following the arena-of-tables shape used throughout the teacher's
// execution-graph model (every cross-reference is an integer index into a
// table owned by the Graph, never a pointer cycle), Graph owns parallel
// slices of Vertex, Edge and Param; a Vertex referring to a subgraph simply
// holds a *Graph whose own Parent field points back.
package pisdf

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/spider2/runtime/internal/expr"
)

// Graph is one parameterized dataflow subgraph: either the application's
// root graph, or the body of a GraphType vertex in some enclosing graph.
type Graph struct {
	Name string

	Vertices []*Vertex
	Edges    []*Edge
	Params   []*Param

	// InputInterfaces and OutputInterfaces list, in port order, the
	// indices of this graph's InputIf / OutputIf vertices.
	InputInterfaces  []int
	OutputInterfaces []int

	// Parent is the enclosing graph, or nil for the root graph.
	Parent *Graph
	// ParentVertexIndex is the index, within Parent, of the GraphType
	// vertex that owns this subgraph. Meaningless when Parent is nil.
	ParentVertexIndex int
}

// NewGraph creates an empty root graph.
func NewGraph(name string) *Graph {
	return &Graph{Name: name, ParentVertexIndex: -1}
}

// Vertex returns the vertex at index, panicking on an out-of-range index
// since indices are only ever handed out by this package.
func (g *Graph) Vertex(index int) *Vertex { return g.Vertices[index] }

// Edge returns the edge at index.
func (g *Graph) Edge(index int) *Edge { return g.Edges[index] }

// Param returns the parameter at index.
func (g *Graph) Param(index int) *Param { return g.Params[index] }

// AddVertex appends a new vertex of the given type with nIn input ports
// and nOut output ports, all initially unconnected. Special vertex types
// (FORK, JOIN, ...) have a fixed or minimum arity enforced here.
func (g *Graph) AddVertex(t VertexType, name string, nIn, nOut int) (*Vertex, error) {
	if rule, ok := fixedPortRules[t]; ok {
		if !rule.in.allows(nIn) {
			return nil, fmt.Errorf("%w: %s vertex %q declares %d input ports, want %s", ErrInvalidConstruction, t, name, nIn, rule.in.describe())
		}
		if !rule.out.allows(nOut) {
			return nil, fmt.Errorf("%w: %s vertex %q declares %d output ports, want %s", ErrInvalidConstruction, t, name, nOut, rule.out.describe())
		}
	}
	v := &Vertex{
		Index:             len(g.Vertices),
		Name:              name,
		Type:              t,
		InputEdges:        newUnconnectedSlots(nIn),
		OutputEdges:       newUnconnectedSlots(nOut),
		KernelIndex:       -1,
		ExternBufferIndex: -1,
	}
	g.Vertices = append(g.Vertices, v)
	if t == InputIf {
		g.InputInterfaces = append(g.InputInterfaces, v.Index)
	}
	if t == OutputIf {
		g.OutputInterfaces = append(g.OutputInterfaces, v.Index)
	}
	return v, nil
}

func newUnconnectedSlots(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = -1
	}
	return s
}

func (a portArity) describe() string {
	if a.max == -1 {
		return fmt.Sprintf(">= %d", a.min)
	}
	if a.min == a.max {
		return fmt.Sprintf("exactly %d", a.min)
	}
	return fmt.Sprintf("between %d and %d", a.min, a.max)
}

// AddEdge connects an output port of srcVertex to an input port of
// snkVertex, both within g, with the given source/sink rate expressions
// and an optional delay. The referenced port slots must currently be
// unconnected.
func (g *Graph) AddEdge(srcVertex, srcPort, snkVertex, snkPort int, srcRate, snkRate expr.Expr, delay *Delay) (*Edge, error) {
	src, err := g.checkVertexIndex(srcVertex)
	if err != nil {
		return nil, err
	}
	snk, err := g.checkVertexIndex(snkVertex)
	if err != nil {
		return nil, err
	}
	if srcPort < 0 || srcPort >= len(src.OutputEdges) {
		return nil, fmt.Errorf("%w: vertex %q has no output port %d", ErrInvalidConstruction, src.Name, srcPort)
	}
	if snkPort < 0 || snkPort >= len(snk.InputEdges) {
		return nil, fmt.Errorf("%w: vertex %q has no input port %d", ErrInvalidConstruction, snk.Name, snkPort)
	}
	if src.OutputEdges[srcPort] != -1 {
		return nil, fmt.Errorf("%w: vertex %q output port %d is already connected", ErrInvalidConstruction, src.Name, srcPort)
	}
	if snk.InputEdges[snkPort] != -1 {
		return nil, fmt.Errorf("%w: vertex %q input port %d is already connected", ErrInvalidConstruction, snk.Name, snkPort)
	}
	if delay != nil && delay.Persistent {
		if _, ok := expr.IsConst(delay.TokensExpr); !ok {
			return nil, fmt.Errorf("%w: a persistent delay's token count must not depend on a dynamic parameter set by a configuration vertex", ErrInvalidConstruction)
		}
	}
	e := &Edge{
		Index:        len(g.Edges),
		SourceVertex: srcVertex,
		SourcePort:   srcPort,
		SinkVertex:   snkVertex,
		SinkPort:     snkPort,
		SourceRate:   srcRate,
		SinkRate:     snkRate,
		Delay:        delay,
	}
	g.Edges = append(g.Edges, e)
	src.OutputEdges[srcPort] = e.Index
	snk.InputEdges[snkPort] = e.Index
	return e, nil
}

func (g *Graph) checkVertexIndex(index int) (*Vertex, error) {
	if index < 0 || index >= len(g.Vertices) {
		return nil, fmt.Errorf("%w: vertex index %d out of range [0,%d)", ErrInvalidConstruction, index, len(g.Vertices))
	}
	return g.Vertices[index], nil
}

// AddStaticParam appends a parameter with a fixed value.
func (g *Graph) AddStaticParam(name string, value int64) *Param {
	p := &Param{Index: len(g.Params), Name: name, Kind: StaticParam, Value: value, set: true}
	g.Params = append(g.Params, p)
	return p
}

// AddDynamicParam appends a parameter whose value is evaluated from e (and
// may later be overwritten by a configuration vertex's output).
func (g *Graph) AddDynamicParam(name string, e expr.Expr) *Param {
	p := &Param{Index: len(g.Params), Name: name, Kind: DynamicParam, Expr: e}
	g.Params = append(g.Params, p)
	return p
}

// AddInheritedParam appends a parameter that is a weak reference to
// parentParamIndex in g.Parent.
func (g *Graph) AddInheritedParam(name string, parentParamIndex int) (*Param, error) {
	if g.Parent == nil {
		return nil, fmt.Errorf("%w: graph %q has no parent to inherit parameter %q from", ErrInvalidConstruction, g.Name, name)
	}
	if parentParamIndex < 0 || parentParamIndex >= len(g.Parent.Params) {
		return nil, fmt.Errorf("%w: parent parameter index %d out of range", ErrInvalidConstruction, parentParamIndex)
	}
	p := &Param{Index: len(g.Params), Name: name, Kind: InheritedParam, InheritIndex: parentParamIndex}
	g.Params = append(g.Params, p)
	return p, nil
}

// SetConfigOutputs declares that the CONFIG vertex at vertexIndex sets the
// listed parameters of g, which must all belong to g itself.
func (g *Graph) SetConfigOutputs(vertexIndex int, paramIndices []int) error {
	v, err := g.checkVertexIndex(vertexIndex)
	if err != nil {
		return err
	}
	if v.Type != Config {
		return fmt.Errorf("%w: vertex %q is not a CONFIG vertex", ErrInvalidConstruction, v.Name)
	}
	var result *multierror.Error
	for _, idx := range paramIndices {
		if idx < 0 || idx >= len(g.Params) {
			result = multierror.Append(result, fmt.Errorf("%w: parameter index %d is out of range for graph %q", ErrInvalidConstruction, idx, g.Name))
			continue
		}
	}
	if result.ErrorOrNil() != nil {
		return result
	}
	v.ConfigParams = append(v.ConfigParams, paramIndices...)
	return nil
}

// SetExternBufferIndex declares that the EXTERN_IN or EXTERN_OUT vertex at
// vertexIndex references the pre-registered external buffer bufferIndex.
func (g *Graph) SetExternBufferIndex(vertexIndex, bufferIndex int) error {
	v, err := g.checkVertexIndex(vertexIndex)
	if err != nil {
		return err
	}
	if v.Type != ExternIn && v.Type != ExternOut {
		return fmt.Errorf("%w: vertex %q is not an EXTERN_IN or EXTERN_OUT vertex", ErrInvalidConstruction, v.Name)
	}
	if bufferIndex < 0 {
		return fmt.Errorf("%w: external buffer index %d is negative for vertex %q", ErrInvalidConstruction, bufferIndex, v.Name)
	}
	v.ExternBufferIndex = bufferIndex
	return nil
}

// ConnectSubgraph turns the vertex at vertexIndex into a GraphType vertex
// whose body is sub, and links sub back to its parent.
func (g *Graph) ConnectSubgraph(vertexIndex int, sub *Graph) error {
	v, err := g.checkVertexIndex(vertexIndex)
	if err != nil {
		return err
	}
	if v.Type != GraphType {
		return fmt.Errorf("%w: vertex %q was not declared as a GRAPH vertex", ErrInvalidConstruction, v.Name)
	}
	if len(sub.InputInterfaces) != len(v.InputEdges) {
		return fmt.Errorf("%w: subgraph %q has %d input interfaces, parent vertex %q declares %d input ports", ErrInvalidConstruction, sub.Name, len(sub.InputInterfaces), v.Name, len(v.InputEdges))
	}
	if len(sub.OutputInterfaces) != len(v.OutputEdges) {
		return fmt.Errorf("%w: subgraph %q has %d output interfaces, parent vertex %q declares %d output ports", ErrInvalidConstruction, sub.Name, len(sub.OutputInterfaces), v.Name, len(v.OutputEdges))
	}
	sub.Parent = g
	sub.ParentVertexIndex = vertexIndex
	v.Subgraph = sub
	return nil
}

// Validate reports every construction invariant violation it can find
// (unconnected ports, mismatched subgraph arity) instead of failing on the
// first one, so that callers can surface a complete diagnostic list.
func (g *Graph) Validate() error {
	var result *multierror.Error
	for _, v := range g.Vertices {
		for port, edgeIdx := range v.InputEdges {
			if edgeIdx == -1 {
				result = multierror.Append(result, fmt.Errorf("%w: vertex %q input port %d is unconnected", ErrInvalidConstruction, v.Name, port))
			}
		}
		for port, edgeIdx := range v.OutputEdges {
			if edgeIdx == -1 {
				result = multierror.Append(result, fmt.Errorf("%w: vertex %q output port %d is unconnected", ErrInvalidConstruction, v.Name, port))
			}
		}
		if v.Type == GraphType && v.Subgraph == nil {
			result = multierror.Append(result, fmt.Errorf("%w: GRAPH vertex %q has no connected subgraph", ErrInvalidConstruction, v.Name))
		}
		if v.Type == GraphType && v.Subgraph != nil {
			if err := v.Subgraph.Validate(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// IsFullyStatic reports whether every parameter in g (recursively,
// including all subgraphs) is either STATIC, or INHERITED from a
// ultimately-static parameter: no parameter's value can change once the
// graph is constructed.
func (g *Graph) IsFullyStatic() bool {
	for _, p := range g.Params {
		if !g.paramIsStatic(p) {
			return false
		}
	}
	for _, v := range g.Vertices {
		if v.Type == GraphType && v.Subgraph != nil && !v.Subgraph.IsFullyStatic() {
			return false
		}
	}
	return true
}

func (g *Graph) paramIsStatic(p *Param) bool {
	switch p.Kind {
	case StaticParam:
		return true
	case InheritedParam:
		if g.Parent == nil {
			return false
		}
		return g.Parent.paramIsStatic(g.Parent.Param(p.InheritIndex))
	default: // DynamicParam
		return false
	}
}
