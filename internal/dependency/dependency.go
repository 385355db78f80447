// Package dependency computes the execution-dependency records of
// spec §4.5: given a consumer firing's demanded token window on one input
// edge, the finite list of producer firings (and byte ranges within them)
// that satisfy it, crossing interface boundaries and delay/setter hops as
// needed.
package dependency

import (
	"errors"
	"fmt"

	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
)

// ErrBufferUnderrun is returned when a computed memory range would be
// negative, or a demanded firing falls outside the producer's repetition
// vector: both indicate a rate-consistency problem that the BRV resolver
// should already have caught, surfaced instead at dependency-resolution
// time for whichever graph shape slipped through.
var ErrBufferUnderrun = errors.New("buffer underrun")

// ExecDependencyInfo describes one execution dependency of a consumer
// firing on a contiguous run of a producer's firings.
type ExecDependencyInfo struct {
	// Owner is the FiringHandler the producer vertex belongs to: the
	// handler passed to Resolve, or an ancestor's handler when the
	// dependency crossed one or more interface boundaries.
	Owner *firing.Handler

	ProducerVertex int
	ProducerEdge   int

	// FiringStart and FiringEnd are the inclusive range of producer
	// firing indices this record covers.
	FiringStart, FiringEnd uint32

	// MemoryStart is the byte/token offset within the FiringStart firing
	// where this record's data begins; MemoryEnd is the exclusive offset
	// within the FiringEnd firing where it ends. When FiringStart ==
	// FiringEnd, [MemoryStart, MemoryEnd) is the full range within that
	// one firing.
	MemoryStart, MemoryEnd int64

	// Rate is the producer edge's per-firing production rate, resolved
	// against Owner's parameters.
	Rate int64

	// Merged reports whether this record spans more than one producer
	// firing.
	Merged bool
}

// Resolve computes the ExecDependencyInfo list for the consumer rate
// interval [lo, hi) on h's edge at edgeIdx.
func Resolve(h *firing.Handler, edgeIdx int, lo, hi int64) ([]ExecDependencyInfo, error) {
	if hi < lo {
		return nil, fmt.Errorf("dependency: consumer window [%d,%d) on edge %d is inverted", lo, hi, edgeIdx)
	}
	if lo < 0 {
		return nil, fmt.Errorf("%w: consumer window start %d on edge %d is negative", ErrBufferUnderrun, lo, edgeIdx)
	}
	if hi == lo {
		return nil, nil // zero-width window: no tokens demanded, no dependency
	}

	e := h.Graph.Edge(edgeIdx)

	var delayTokens int64
	if e.HasDelay() {
		v, err := expr.Eval(e.Delay.TokensExpr, h.Params)
		if err != nil {
			return nil, err
		}
		delayTokens = v
	}
	if e.HasDelay() && e.Delay.Setter >= 0 {
		return resolveWithSetter(h, e, lo, hi, delayTokens)
	}

	winLo, winHi := lo+delayTokens, hi+delayTokens
	return resolveProducer(h, e, winLo, winHi)
}

// resolveProducer handles the plain-vertex and interface-crossing cases:
// the window [winLo, winHi) is expressed directly on the producer
// vertex's token stream (the delay offset, if any, has already been
// folded in by the caller).
func resolveProducer(h *firing.Handler, e *pisdf.Edge, winLo, winHi int64) ([]ExecDependencyInfo, error) {
	producer := h.Graph.Vertex(e.SourceVertex)
	if producer.Type == pisdf.InputIf {
		return crossInterface(h, producer, winLo, winHi)
	}

	rate, err := expr.Eval(e.SourceRate, h.Params)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("dependency: edge %d has a non-positive source rate %d", e.Index, rate)
	}

	firingStart := winLo / rate
	memStart := winLo % rate
	lastPos := winHi - 1
	firingEnd := lastPos / rate
	memEnd := lastPos%rate + 1

	maxFiring := int64(h.BRV[producer.Index])
	if firingEnd >= maxFiring || firingStart < 0 {
		return nil, fmt.Errorf("%w: dependency on edge %d needs producer firings [%d,%d] but %q only fires %d times", ErrBufferUnderrun, e.Index, firingStart, firingEnd, producer.Name, maxFiring)
	}

	return []ExecDependencyInfo{{
		Owner:          h,
		ProducerVertex: producer.Index,
		ProducerEdge:   e.Index,
		FiringStart:    uint32(firingStart),
		FiringEnd:      uint32(firingEnd),
		MemoryStart:    memStart,
		MemoryEnd:      memEnd,
		Rate:           rate,
		Merged:         firingStart != firingEnd,
	}}, nil
}

// crossInterface implements spec step 3: the producer is an INPUT_IF
// vertex, so the real data comes from the parent handler's edge feeding
// this subgraph occurrence. The window is remapped into the parent's
// token stream by offsetting for which firing of the owning GRAPH vertex
// this handler represents, then resolved recursively one level up.
func crossInterface(h *firing.Handler, ifVertex *pisdf.Vertex, winLo, winHi int64) ([]ExecDependencyInfo, error) {
	if h.Parent == nil {
		return nil, fmt.Errorf("dependency: INPUT_IF vertex %q has no parent handler to cross into", ifVertex.Name)
	}
	portIdx := indexOfInt(h.Graph.InputInterfaces, ifVertex.Index)
	if portIdx < 0 {
		return nil, fmt.Errorf("dependency: vertex %q is not registered as an input interface of graph %q", ifVertex.Name, h.Graph.Name)
	}
	owner := h.Parent.Graph.Vertex(h.Graph.ParentVertexIndex)
	parentEdgeIdx := owner.InputEdges[portIdx]
	parentEdge := h.Parent.Graph.Edge(parentEdgeIdx)

	parentRate, err := expr.Eval(parentEdge.SinkRate, h.Parent.Params)
	if err != nil {
		return nil, err
	}
	offset := int64(h.ParentFiringIndex) * parentRate

	return Resolve(h.Parent, parentEdgeIdx, offset+winLo, offset+winHi)
}

// resolveWithSetter implements spec step 4: the demanded window straddles
// the delay's pre-existing prefix (produced, in a prior iteration, by the
// setter vertex) and the regular producer's suffix. delayTokens is the
// total size of that prefix; positions below it belong to the setter,
// positions at or above it belong to the ordinary producer, offset back
// down by delayTokens.
func resolveWithSetter(h *firing.Handler, e *pisdf.Edge, winLo, winHi, delayTokens int64) ([]ExecDependencyInfo, error) {
	var out []ExecDependencyInfo

	if winLo < delayTokens {
		setterHi := winHi
		if setterHi > delayTokens {
			setterHi = delayTokens
		}
		// The setter vertex feeds the delay's initial tokens to the same
		// consumer as e, via its own dedicated edge (never e itself,
		// which carries the ongoing, steady-state production).
		setterEdgeIdx := -1
		for _, eIdx := range h.Graph.Vertex(e.Delay.Setter).OutputEdges {
			if eIdx == e.Index {
				continue
			}
			if h.Graph.Edge(eIdx).SinkVertex == e.SinkVertex {
				setterEdgeIdx = eIdx
				break
			}
		}
		if setterEdgeIdx == -1 {
			return nil, fmt.Errorf("dependency: delay setter %q on edge %d has no dedicated edge into consumer vertex %d", h.Graph.Vertex(e.Delay.Setter).Name, e.Index, e.SinkVertex)
		}
		setterDeps, err := resolveProducer(h, h.Graph.Edge(setterEdgeIdx), winLo, setterHi)
		if err != nil {
			return nil, err
		}
		out = append(out, setterDeps...)
	}

	if winHi > delayTokens {
		producerLo := winLo - delayTokens
		if producerLo < 0 {
			producerLo = 0
		}
		producerDeps, err := resolveProducer(h, e, producerLo, winHi-delayTokens)
		if err != nil {
			return nil, err
		}
		out = append(out, producerDeps...)
	}

	return out, nil
}

func indexOfInt(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
