// Package fifo allocates and tags the buffer views (spec §4.7) that back
// every execution dependency resolved by internal/dependency: one
// contiguous arena buffer per (FiringHandler, producer edge), with
// individual consumers addressing byte-range slices into it. Slicing a
// shared buffer rather than copying lets a window that spans several
// producer firings (R_MERGE) be expressed as nothing more than a wider
// slice of the same allocation.
package fifo

import (
	"errors"
	"fmt"

	"github.com/spider2/runtime/internal/dependency"
	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
)

// ErrAllocation is the sentinel wrapped by every fatal allocation failure.
var ErrAllocation = errors.New("fifo allocation error")

// Attribute classifies how a Fifo's [Offset, Offset+Size) range relates to
// the buffer at Address: an owned allocation, an externally-backed one, or
// one of the sharing modes a structural vertex (Fork/Join/Duplicate/Repeat)
// can produce without copying.
type Attribute int

const (
	// RWOwn is a buffer this Fifo's producer allocated and fully owns.
	RWOwn Attribute = iota
	// RWExt references a buffer registered outside the allocator's own
	// arena (an EXTERN_IN/EXTERN_OUT vertex's pre-registered buffer).
	RWExt
	// RMerge is an RWOwn-like view that happens to span more than one
	// producer firing: still one contiguous slice, just a wider one.
	RMerge
	// RSame marks a read-only alias of another Fifo's memory (Fork's
	// output ports, Duplicate's output ports, an identity Repeat).
	RSame
	// WSame marks a write-only alias into a Join's freshly allocated
	// output buffer, one per input port.
	WSame
)

func (a Attribute) String() string {
	switch a {
	case RWOwn:
		return "RW_OWN"
	case RWExt:
		return "RW_EXT"
	case RMerge:
		return "R_MERGE"
	case RSame:
		return "R_SAME"
	case WSame:
		return "W_SAME"
	default:
		return fmt.Sprintf("Attribute(%d)", int(a))
	}
}

// Fifo is one buffer view (spec's Fifo type): an address within the
// allocator's virtual address space, a byte offset and size within the
// buffer at that address, a reference count, an attribute, and — only for
// RWExt views — the external buffer index it references.
type Fifo struct {
	Address     uint64
	Offset      int64
	Size        int64
	Count       int
	Attribute   Attribute
	BufferIndex int // -1 unless Attribute == RWExt
}

type bufferKey struct {
	handler *firing.Handler
	edge    int
}

type bufferState struct {
	address uint64
	size    int64
}

// Allocator hands out virtual addresses for a single iteration's buffers.
// It is not safe for concurrent use.
type Allocator struct {
	nextAddress uint64
	buffers     map[bufferKey]*bufferState
	persistent  map[bufferKey]bool
}

// NewAllocator creates an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		buffers:    make(map[bufferKey]*bufferState),
		persistent: make(map[bufferKey]bool),
	}
}

// AllocatePersistentDelays walks every edge of h's graph and reserves a
// permanent address range for each one carrying a persistent delay, sized
// to its token count. Persistent reservations are never reused by
// bufferFor's normal per-iteration sizing and are never reclaimed.
func (a *Allocator) AllocatePersistentDelays(h *firing.Handler) error {
	for _, e := range h.Graph.Edges {
		if !e.HasDelay() || !e.Delay.Persistent {
			continue
		}
		key := bufferKey{h, e.Index}
		if a.persistent[key] {
			continue
		}
		tokens, err := expr.Eval(e.Delay.TokensExpr, h.Params)
		if err != nil {
			return fmt.Errorf("fifo: evaluating persistent delay size on edge %d: %w", e.Index, err)
		}
		addr := a.nextAddress
		a.nextAddress += uint64(tokens)
		a.buffers[key] = &bufferState{address: addr, size: tokens}
		a.persistent[key] = true
	}
	return nil
}

// bufferFor returns the (lazily created) arena buffer backing edgeIdx's
// producer in h, sized to the producer's whole-iteration output: its
// per-firing rate times its repetition count. An edge with a persistent
// delay keeps the fixed-size reservation AllocatePersistentDelays gave it.
func (a *Allocator) bufferFor(h *firing.Handler, edgeIdx int) (*bufferState, error) {
	key := bufferKey{h, edgeIdx}
	if bs, ok := a.buffers[key]; ok {
		return bs, nil
	}
	e := h.Graph.Edge(edgeIdx)
	rate, err := expr.Eval(e.SourceRate, h.Params)
	if err != nil {
		return nil, fmt.Errorf("fifo: evaluating source rate of edge %d: %w", edgeIdx, err)
	}
	producer := h.Graph.Vertex(e.SourceVertex)
	size := rate * int64(h.BRV[producer.Index])
	bs := &bufferState{address: a.nextAddress, size: size}
	a.nextAddress += uint64(size)
	a.buffers[key] = bs
	return bs, nil
}

// registerBuffer installs an already-sized buffer (as Join allocates) so
// later Normal consumers referencing that same (handler, edge) address the
// same memory instead of triggering bufferFor's default rate*BRV sizing.
func (a *Allocator) registerBuffer(h *firing.Handler, edgeIdx int, address uint64, size int64) {
	a.buffers[bufferKey{h, edgeIdx}] = &bufferState{address: address, size: size}
}

// viewForDep builds the Fifo view a single execution dependency record
// describes, by slicing the arena buffer its producer edge owns. An
// EXTERN_IN producer has no arena buffer of its own: its view references
// the external buffer directly.
func (a *Allocator) viewForDep(d dependency.ExecDependencyInfo) (Fifo, error) {
	producer := d.Owner.Graph.Vertex(d.ProducerVertex)
	if producer.Type == pisdf.ExternIn {
		offset := int64(d.FiringStart)*d.Rate + d.MemoryStart
		end := int64(d.FiringEnd)*d.Rate + d.MemoryEnd
		return Fifo{
			Attribute:   RWExt,
			BufferIndex: producer.ExternBufferIndex,
			Offset:      offset,
			Size:        end - offset,
			Count:       -1, // filled in by the caller
		}, nil
	}

	bs, err := a.bufferFor(d.Owner, d.ProducerEdge)
	if err != nil {
		return Fifo{}, err
	}
	offset := int64(d.FiringStart)*d.Rate + d.MemoryStart
	end := int64(d.FiringEnd)*d.Rate + d.MemoryEnd
	attr := RWOwn
	if d.Merged {
		attr = RMerge
	}
	return Fifo{
		Address:     bs.address,
		Offset:      offset,
		Size:        end - offset,
		Attribute:   attr,
		BufferIndex: -1,
		Count:       -1,
	}, nil
}

// AllocateNormal builds the input views for a plain (NORMAL, HEAD, TAIL,
// ...) consumer task: one view per resolved dependency, each counted
// against consumerCount. A view onto an externally-sourced buffer is
// downgraded from RW_EXT to RW_OWN: once a regular task holds it, it is
// subject to the same reference-counted reclaim as any owned allocation.
func (a *Allocator) AllocateNormal(deps []dependency.ExecDependencyInfo, consumerCount int) ([]Fifo, error) {
	out := make([]Fifo, 0, len(deps))
	for _, d := range deps {
		f, err := a.viewForDep(d)
		if err != nil {
			return nil, err
		}
		if f.Attribute == RWExt {
			f.Attribute = RWOwn
			f.BufferIndex = -1
		}
		f.Count = consumerCount
		out = append(out, f)
	}
	return out, nil
}

// AllocateFork builds a Fork vertex's views: the single input view
// (unchanged, shared read-only by every output) and, per output port, an
// R_SAME slice of that same view at the running offset of the ports
// before it, sized to that port's own rate.
func (a *Allocator) AllocateFork(h *firing.Handler, v *pisdf.Vertex, inputDep dependency.ExecDependencyInfo, consumerCounts []int) (Fifo, []Fifo, error) {
	if len(v.OutputEdges) != len(consumerCounts) {
		return Fifo{}, nil, fmt.Errorf("%w: fork vertex %q has %d output ports, got %d consumer counts", ErrAllocation, v.Name, len(v.OutputEdges), len(consumerCounts))
	}
	input, err := a.viewForDep(inputDep)
	if err != nil {
		return Fifo{}, nil, err
	}
	input.Count = len(v.OutputEdges)

	outputs := make([]Fifo, len(v.OutputEdges))
	offset := input.Offset
	for i, eIdx := range v.OutputEdges {
		e := h.Graph.Edge(eIdx)
		rate, err := expr.Eval(e.SourceRate, h.Params)
		if err != nil {
			return Fifo{}, nil, fmt.Errorf("fifo: evaluating fork output port %d rate: %w", i, err)
		}
		outputs[i] = Fifo{
			Address:     input.Address,
			Offset:      offset,
			Size:        rate,
			Attribute:   RSame,
			BufferIndex: -1,
			Count:       consumerCounts[i],
		}
		offset += rate
	}
	return input, outputs, nil
}

// AllocateDuplicate builds a Duplicate vertex's views: every output port
// is an R_SAME alias of the whole input view, at offset 0.
func (a *Allocator) AllocateDuplicate(v *pisdf.Vertex, inputDep dependency.ExecDependencyInfo, consumerCounts []int) (Fifo, []Fifo, error) {
	if len(v.OutputEdges) != len(consumerCounts) {
		return Fifo{}, nil, fmt.Errorf("%w: duplicate vertex %q has %d output ports, got %d consumer counts", ErrAllocation, v.Name, len(v.OutputEdges), len(consumerCounts))
	}
	input, err := a.viewForDep(inputDep)
	if err != nil {
		return Fifo{}, nil, err
	}
	input.Count = len(v.OutputEdges)

	outputs := make([]Fifo, len(v.OutputEdges))
	for i := range v.OutputEdges {
		outputs[i] = Fifo{
			Address:     input.Address,
			Offset:      input.Offset,
			Size:        input.Size,
			Attribute:   RSame,
			BufferIndex: -1,
			Count:       consumerCounts[i],
		}
	}
	return input, outputs, nil
}

// AllocateJoin builds a Join vertex's views: a fresh RW_OWN output buffer
// sized to the sum of its inputs, with each input re-tagged as a W_SAME
// slice into that buffer at its own cumulative offset.
func (a *Allocator) AllocateJoin(h *firing.Handler, v *pisdf.Vertex, inputDeps []dependency.ExecDependencyInfo, consumerCount int) ([]Fifo, Fifo, error) {
	if len(inputDeps) != len(v.InputEdges) {
		return nil, Fifo{}, fmt.Errorf("%w: join vertex %q has %d input ports, got %d dependencies", ErrAllocation, v.Name, len(v.InputEdges), len(inputDeps))
	}
	inputs := make([]Fifo, len(inputDeps))
	var total int64
	for i, d := range inputDeps {
		f, err := a.viewForDep(d)
		if err != nil {
			return nil, Fifo{}, err
		}
		inputs[i] = f
		total += f.Size
	}

	address := a.nextAddress
	a.nextAddress += uint64(total)
	if len(v.OutputEdges) == 1 {
		a.registerBuffer(h, v.OutputEdges[0], address, total)
	}

	offset := int64(0)
	for i := range inputs {
		size := inputs[i].Size
		inputs[i] = Fifo{
			Address:     address,
			Offset:      offset,
			Size:        size,
			Attribute:   WSame,
			BufferIndex: -1,
			Count:       1,
		}
		offset += size
	}

	output := Fifo{Address: address, Offset: 0, Size: total, Attribute: RWOwn, BufferIndex: -1, Count: consumerCount}
	return inputs, output, nil
}

// AllocateRepeat builds a Repeat vertex's output view. If the input and
// output sizes match and the input isn't itself an owned allocation, the
// output aliases it directly (R_SAME); a genuine rate change (or an owned
// input, which must not be shared across vertices) allocates a fresh
// RW_OWN buffer.
func (a *Allocator) AllocateRepeat(inputDep dependency.ExecDependencyInfo, outputSize int64, consumerCount int) (Fifo, Fifo, error) {
	input, err := a.viewForDep(inputDep)
	if err != nil {
		return Fifo{}, Fifo{}, err
	}
	input.Count = 1

	if input.Size == outputSize && input.Attribute != RWOwn {
		output := Fifo{
			Address:     input.Address,
			Offset:      input.Offset,
			Size:        input.Size,
			Attribute:   RSame,
			BufferIndex: -1,
			Count:       consumerCount,
		}
		return input, output, nil
	}

	address := a.nextAddress
	a.nextAddress += uint64(outputSize)
	output := Fifo{Address: address, Offset: 0, Size: outputSize, Attribute: RWOwn, BufferIndex: -1, Count: consumerCount}
	return input, output, nil
}

// AllocateExternOut builds an EXTERN_OUT vertex's single input view,
// tagged RW_EXT against its pre-registered external buffer.
func (a *Allocator) AllocateExternOut(v *pisdf.Vertex, inputDep dependency.ExecDependencyInfo) (Fifo, error) {
	if v.ExternBufferIndex < 0 {
		return Fifo{}, fmt.Errorf("%w: extern-out vertex %q has no registered buffer index", ErrAllocation, v.Name)
	}
	input, err := a.viewForDep(inputDep)
	if err != nil {
		return Fifo{}, err
	}
	return Fifo{
		Attribute:   RWExt,
		BufferIndex: v.ExternBufferIndex,
		Offset:      0,
		Size:        input.Size,
		Count:       1,
	}, nil
}
