package pisdf

import "fmt"

// VertexType is the closed set of vertex kinds a parameterized dataflow
// graph can contain.
type VertexType int

const (
	Normal VertexType = iota
	Config
	Delay
	Fork
	Join
	Head
	Tail
	Duplicate
	Repeat
	Init
	End
	InputIf
	OutputIf
	ExternIn
	ExternOut
	GraphType
)

func (t VertexType) String() string {
	switch t {
	case Normal:
		return "NORMAL"
	case Config:
		return "CONFIG"
	case Delay:
		return "DELAY"
	case Fork:
		return "FORK"
	case Join:
		return "JOIN"
	case Head:
		return "HEAD"
	case Tail:
		return "TAIL"
	case Duplicate:
		return "DUPLICATE"
	case Repeat:
		return "REPEAT"
	case Init:
		return "INIT"
	case End:
		return "END"
	case InputIf:
		return "INPUT_IF"
	case OutputIf:
		return "OUTPUT_IF"
	case ExternIn:
		return "EXTERN_IN"
	case ExternOut:
		return "EXTERN_OUT"
	case GraphType:
		return "GRAPH"
	default:
		return fmt.Sprintf("VertexType(%d)", int(t))
	}
}

// portArity describes the fixed or open-ended port counts allowed for a
// special vertex type. min == max means a fixed arity; max == -1 means
// "at least min".
type portArity struct{ min, max int }

var fixedPortRules = map[VertexType]struct{ in, out portArity }{
	Fork:      {portArity{1, 1}, portArity{1, -1}},
	Join:      {portArity{1, -1}, portArity{1, 1}},
	Duplicate: {portArity{1, 1}, portArity{1, -1}},
	Head:      {portArity{1, -1}, portArity{1, 1}},
	Tail:      {portArity{1, -1}, portArity{1, 1}},
	Repeat:    {portArity{1, 1}, portArity{1, 1}},
	InputIf:   {portArity{0, 0}, portArity{1, 1}},
	OutputIf:  {portArity{1, 1}, portArity{0, 0}},
	ExternIn:  {portArity{0, 0}, portArity{1, 1}},
	ExternOut: {portArity{1, 1}, portArity{0, 0}},
}

func (a portArity) allows(n int) bool {
	if n < a.min {
		return false
	}
	return a.max == -1 || n <= a.max
}

// Vertex is one node of a Graph, identified by its Index within that
// Graph's vertex arena. Vertices are immutable after construction.
type Vertex struct {
	Index int
	Name  string
	Type  VertexType

	// InputEdges and OutputEdges hold, per port slot, the index into the
	// owning Graph's edge arena of the edge connected there, or -1 if the
	// slot is still unconnected.
	InputEdges  []int
	OutputEdges []int

	// ConfigParams lists, for a CONFIG vertex, the indices of the
	// parameters (in the owning graph) that this vertex's execution sets.
	ConfigParams []int

	// Subgraph is non-nil only for GraphType vertices: the nested graph
	// this vertex represents as a single node from the parent's
	// perspective.
	Subgraph *Graph

	// KernelIndex identifies, in some external refinement registry, the
	// user-provided function this vertex's firings execute. It is
	// meaningless for pure structural vertices (FORK, JOIN, ...).
	KernelIndex int

	// ExternBufferIndex identifies, for an EXTERN_IN or EXTERN_OUT vertex,
	// the pre-registered external buffer its single fifo references. -1
	// (the default) for every other vertex type.
	ExternBufferIndex int
}

// NumInputs and NumOutputs report the vertex's declared port counts.
func (v *Vertex) NumInputs() int  { return len(v.InputEdges) }
func (v *Vertex) NumOutputs() int { return len(v.OutputEdges) }

// IsExecutable reports true for every vertex type, INIT and END
// included: each vertex is given a repetition count directly. Structural
// collapsing (such as a JOIN feeding an END) happens in the scheduler's
// reductions, not here.
func (v *Vertex) IsExecutable() bool {
	return true
}
