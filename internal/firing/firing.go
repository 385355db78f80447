// Package firing implements the per-subgraph, per-iteration FiringHandler:
// the object that owns a subgraph occurrence's resolved parameters, basic
// repetition vector, and task-index table, and that creates a child
// FiringHandler for every firing of a nested GRAPH vertex.
package firing

import (
	"fmt"
	"math"

	"github.com/spider2/runtime/internal/brv"
	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/pisdf"
)

// Unscheduled is the task-index table's sentinel for "not yet scheduled".
const Unscheduled = uint32(math.MaxUint32)

// taskKey addresses one (vertex, firing) pair, used both for the
// task-index table and for the child-handler table.
type taskKey struct {
	VertexIndex int
	Firing      uint32
}

// Handler is a FiringHandler: the resolved state of one occurrence of
// Graph within the current iteration.
type Handler struct {
	Graph  *pisdf.Graph
	Parent *Handler
	// ParentFiringIndex is which firing of the parent's owning GRAPH
	// vertex this handler represents.
	ParentFiringIndex uint32

	// Params is the resolved parameter value table for this occurrence,
	// length len(Graph.Params). It is a private copy per handler: setting
	// an entry here never mutates the shared Graph.Param definitions.
	Params []int64
	// BRV is the repetition-vector table, length len(Graph.Vertices).
	BRV []uint32

	overridden []bool
	taskIx     map[taskKey]uint32
	// Children holds, for every GRAPH-vertex firing resolved so far, the
	// child FiringHandler for that subgraph occurrence.
	Children map[taskKey]*Handler

	resolved bool
}

// New creates a FiringHandler for g as the parentFiringIndex'th occurrence
// under parent (nil for the root graph's single occurrence).
func New(parent *Handler, g *pisdf.Graph, parentFiringIndex uint32) *Handler {
	return &Handler{
		Graph:             g,
		Parent:            parent,
		ParentFiringIndex: parentFiringIndex,
		Params:            make([]int64, len(g.Params)),
		overridden:        make([]bool, len(g.Params)),
		taskIx:            make(map[taskKey]uint32),
		Children:          make(map[taskKey]*Handler),
	}
}

// Resolved reports whether every parameter value is known and the BRV has
// been computed.
func (h *Handler) Resolved() bool { return h.resolved }

// GetParams returns the evaluated view of this firing's parameters.
func (h *Handler) GetParams() []int64 { return h.Params }

func (h *Handler) resolveParams() error {
	for _, p := range h.Graph.Params {
		switch p.Kind {
		case pisdf.StaticParam:
			h.Params[p.Index] = p.Value
		case pisdf.InheritedParam:
			if h.Parent == nil {
				return fmt.Errorf("firing: graph %q parameter %q is inherited but this handler has no parent", h.Graph.Name, p.Name)
			}
			h.Params[p.Index] = h.Parent.Params[p.InheritIndex]
		case pisdf.DynamicParam:
			if h.overridden[p.Index] {
				continue // value was set by a configuration vertex's output; keep it
			}
			if p.Expr == nil {
				continue // not yet produced by its configuration vertex
			}
			v, err := expr.Eval(p.Expr, h.Params)
			if err != nil {
				return fmt.Errorf("firing: resolving parameter %q of graph %q: %w", p.Name, h.Graph.Name, err)
			}
			h.Params[p.Index] = v
		}
	}
	return nil
}

// ResolveBRV resolves this handler's parameters and computes its
// repetition vector, crossing into the parent handler to learn the
// parent-side rate on each interface vertex. After this call the handler
// is resolved: its task-ix table stays stable for the vertices of Graph
// for the remainder of the iteration.
func (h *Handler) ResolveBRV() error {
	if err := h.resolveParams(); err != nil {
		return err
	}
	var boundary []brv.BoundaryRate
	if h.Parent != nil {
		for _, ifIdx := range h.Graph.InputInterfaces {
			rate, err := h.parentBoundaryRate(ifIdx, true)
			if err != nil {
				return err
			}
			boundary = append(boundary, brv.BoundaryRate{VertexIndex: ifIdx, ParentRate: rate})
		}
		for _, ifIdx := range h.Graph.OutputInterfaces {
			rate, err := h.parentBoundaryRate(ifIdx, false)
			if err != nil {
				return err
			}
			boundary = append(boundary, brv.BoundaryRate{VertexIndex: ifIdx, ParentRate: rate})
		}
	}
	rv, err := brv.Resolve(h.Graph, h.Params, boundary)
	if err != nil {
		return err
	}
	h.BRV = rv
	h.resolved = true
	return nil
}

func (h *Handler) parentBoundaryRate(ifVertexIndex int, isInput bool) (int64, error) {
	var portIdx int
	if isInput {
		portIdx = indexOf(h.Graph.InputInterfaces, ifVertexIndex)
	} else {
		portIdx = indexOf(h.Graph.OutputInterfaces, ifVertexIndex)
	}
	if portIdx < 0 {
		return 0, fmt.Errorf("firing: interface vertex %d is not registered on graph %q", ifVertexIndex, h.Graph.Name)
	}
	owner := h.Parent.Graph.Vertex(h.Graph.ParentVertexIndex)
	var edgeIdx int
	var rateExpr expr.Expr
	if isInput {
		// owner is the sink of one of its own InputEdges: the rate at
		// which it actually consumes per firing is the edge's sink rate.
		edgeIdx = owner.InputEdges[portIdx]
		rateExpr = h.Parent.Graph.Edge(edgeIdx).SinkRate
	} else {
		// owner is the source of one of its own OutputEdges: the rate at
		// which it actually produces per firing is the edge's source rate.
		edgeIdx = owner.OutputEdges[portIdx]
		rateExpr = h.Parent.Graph.Edge(edgeIdx).SourceRate
	}
	return expr.Eval(rateExpr, h.Parent.Params)
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Apply copies another handler's resolved state onto h, for sibling
// firings of the same graph whose parameters do not differ: a cheap
// fan-out instead of recomputing BRV from scratch.
func (h *Handler) Apply(other *Handler) {
	h.Params = append([]int64(nil), other.Params...)
	h.BRV = append([]uint32(nil), other.BRV...)
	h.resolved = true
}

// RegisterTaskIx records the scheduler task id assigned to (vertexIndex,
// firing).
func (h *Handler) RegisterTaskIx(vertexIndex int, firing uint32, taskID uint32) {
	h.taskIx[taskKey{vertexIndex, firing}] = taskID
}

// GetTaskIx returns the task id assigned to (vertexIndex, firing), or
// Unscheduled if none has been registered yet.
func (h *Handler) GetTaskIx(vertexIndex int, firing uint32) uint32 {
	if id, ok := h.taskIx[taskKey{vertexIndex, firing}]; ok {
		return id
	}
	return Unscheduled
}

// ChildFor returns the child FiringHandler for the given firing of the
// GRAPH vertex at vertexIndex, creating it (unresolved) on first access.
func (h *Handler) ChildFor(vertexIndex int, firing uint32) (*Handler, error) {
	key := taskKey{VertexIndex: vertexIndex, Firing: firing}
	if c, ok := h.Children[key]; ok {
		return c, nil
	}
	v := h.Graph.Vertex(vertexIndex)
	if v.Type != pisdf.GraphType || v.Subgraph == nil {
		return nil, fmt.Errorf("firing: vertex %q is not a connected subgraph vertex", v.Name)
	}
	child := New(h, v.Subgraph, firing)
	h.Children[key] = child
	return child, nil
}

// SetOutputParam is invoked when a CONFIG job completes, with the value it
// produced for the parameter at index. It re-resolves this handler and
// discards (for later, lazy re-creation) exactly the child handlers whose
// subgraph's shape depends on that parameter, leaving unrelated sibling
// children and their task-index tables untouched. Children that have not
// been resolved yet are kept either way; they read the new value when
// they resolve.
func (h *Handler) SetOutputParam(index int, value int64) error {
	if index < 0 || index >= len(h.Params) {
		return fmt.Errorf("firing: parameter index %d out of range [0,%d) for graph %q", index, len(h.Params), h.Graph.Name)
	}
	h.Params[index] = value
	h.overridden[index] = true
	h.resolved = false
	if err := h.ResolveBRV(); err != nil {
		return err
	}
	for key, child := range h.Children {
		if !child.Resolved() {
			continue
		}
		if h.vertexDependsOnParam(key.VertexIndex, index) {
			delete(h.Children, key)
		}
	}
	return nil
}

// vertexDependsOnParam reports whether the subgraph occurrence rooted at
// vertexIndex would need to be re-resolved if parentParamIndex changes:
// either one of its boundary edges' rate expressions reads that parameter,
// or one of its own parameters inherits directly from it.
func (h *Handler) vertexDependsOnParam(vertexIndex int, parentParamIndex int) bool {
	v := h.Graph.Vertex(vertexIndex)
	for _, eIdx := range append(append([]int{}, v.InputEdges...), v.OutputEdges...) {
		if eIdx == -1 {
			continue
		}
		e := h.Graph.Edge(eIdx)
		if containsInt(expr.ReferencedParams(e.SourceRate), parentParamIndex) {
			return true
		}
		if containsInt(expr.ReferencedParams(e.SinkRate), parentParamIndex) {
			return true
		}
	}
	if v.Subgraph != nil {
		for _, p := range v.Subgraph.Params {
			if p.Kind == pisdf.InheritedParam && p.InheritIndex == parentParamIndex {
				return true
			}
		}
	}
	return false
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
