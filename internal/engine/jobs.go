package engine

import (
	"fmt"

	"github.com/spider2/runtime/internal/dependency"
	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/fifo"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
	"github.com/spider2/runtime/internal/platform"
	"github.com/spider2/runtime/internal/scheduler"
)

// depType aliases dependency.ExecDependencyInfo for brevity in this
// file's many per-vertex-type allocation helpers.
type depType = dependency.ExecDependencyInfo

// evalRate evaluates e's source (production) rate against h's resolved
// parameters.
func evalRate(e *pisdf.Edge, h *firing.Handler) (int64, error) {
	return expr.Eval(e.SourceRate, h.Params)
}

// buildJobMessages allocates every executable task's Fifo views via
// alloc, following the per-vertex-type rule of spec §4.7, and packages
// the result into the JobMessage internal/platform's runners execute.
//
// Fork and Duplicate vertices, by construction, reach this point with
// more than one surviving output port (a single-output-port instance
// would already have been spliced out by scheduler.Reduce); this
// function approximates each output port's consumer count as 1, the
// common case of one downstream task per structural output port.
// Deriving the exact per-port count would require a second, port-level
// consumer index alongside scheduler.ConsumerCounts' task-level one.
func buildJobMessages(sched *scheduler.Schedule, ports map[uint32]portDeps, alloc *fifo.Allocator, counts map[uint32]int) (map[uint32]platform.JobMessage, error) {
	jobs := make(map[uint32]platform.JobMessage)
	for _, t := range sched.Tasks {
		if !t.Executable {
			continue
		}
		v := t.Handler.Graph.Vertex(t.VertexIndex)

		job := platform.JobMessage{
			TaskID:      t.ID,
			KernelIndex: t.KernelIndex,
			InputParams: t.Handler.Params,
			Sync:        platform.SyncFromSchedule(t.Sync),
			Broadcast:   t.Broadcast,
		}

		switch v.Type {
		case pisdf.Fork:
			in, err := soleInputDep(ports, t, v)
			if err != nil {
				return nil, err
			}
			consumerCounts := uniformCounts(len(v.OutputEdges))
			input, outputs, err := alloc.AllocateFork(t.Handler, v, in, consumerCounts)
			if err != nil {
				return nil, err
			}
			job.InputFifos = []fifo.Fifo{input}
			job.OutputFifos = outputs

		case pisdf.Duplicate:
			in, err := soleInputDep(ports, t, v)
			if err != nil {
				return nil, err
			}
			consumerCounts := uniformCounts(len(v.OutputEdges))
			input, outputs, err := alloc.AllocateDuplicate(v, in, consumerCounts)
			if err != nil {
				return nil, err
			}
			job.InputFifos = []fifo.Fifo{input}
			job.OutputFifos = outputs

		case pisdf.Join:
			inDeps, err := onePerPortInputDeps(ports, t, v)
			if err != nil {
				return nil, err
			}
			inputs, output, err := alloc.AllocateJoin(t.Handler, v, inDeps, counts[t.ID])
			if err != nil {
				return nil, err
			}
			job.InputFifos = inputs
			job.OutputFifos = []fifo.Fifo{output}

		case pisdf.Repeat:
			in, err := soleInputDep(ports, t, v)
			if err != nil {
				return nil, err
			}
			outSize, err := repeatOutputSize(t)
			if err != nil {
				return nil, err
			}
			input, output, err := alloc.AllocateRepeat(in, outSize, counts[t.ID])
			if err != nil {
				return nil, err
			}
			job.InputFifos = []fifo.Fifo{input}
			job.OutputFifos = []fifo.Fifo{output}

		case pisdf.ExternOut:
			in, err := soleInputDep(ports, t, v)
			if err != nil {
				return nil, err
			}
			output, err := alloc.AllocateExternOut(v, in)
			if err != nil {
				return nil, err
			}
			job.InputFifos = []fifo.Fifo{output}

		default:
			inputs, err := buildInputViews(alloc, ports[t.ID], counts)
			if err != nil {
				return nil, err
			}
			job.InputFifos = inputs

			outputs, err := buildOutputViews(alloc, t, v, counts[t.ID])
			if err != nil {
				return nil, err
			}
			job.OutputFifos = outputs
		}

		if v.Type == pisdf.Config {
			job.OutputParamIndices = append([]int(nil), v.ConfigParams...)
		}

		jobs[t.ID] = job
	}
	return jobs, nil
}

// buildInputViews resolves a plain vertex firing's input Fifo views one
// port at a time, preserving port order so the kernel's positional
// buffer arguments line up with its declared ports. Each dependency is
// allocated against its own producer's consumer count (the producer
// task's total distinct-consumer count, per scheduler.ConsumerCounts),
// not the consuming task's — a task consuming two different producers'
// outputs must not tag one producer's buffer with the other's
// reference count.
func buildInputViews(alloc *fifo.Allocator, perPort portDeps, counts map[uint32]int) ([]fifo.Fifo, error) {
	var views []fifo.Fifo
	for _, deps := range perPort {
		for _, d := range deps {
			pid := d.Owner.GetTaskIx(d.ProducerVertex, d.FiringStart)
			v, err := alloc.AllocateNormal([]depType{d}, counts[pid])
			if err != nil {
				return nil, err
			}
			views = append(views, v...)
		}
	}
	return views, nil
}

// buildOutputViews builds the write-side Fifo view for each of t's
// vertex's own output edges. A plain vertex never appears as a
// dependency's subject (dependencies are always resolved from a
// consumer's input port), so its own production is never otherwise
// allocated; this synthesizes the single-firing dependency record that
// AllocateNormal needs to derive the same buffer a downstream
// dependency resolution will later address, keyed identically by
// (Owner, producer vertex, edge).
func buildOutputViews(alloc *fifo.Allocator, t *scheduler.Task, v *pisdf.Vertex, consumerCount int) ([]fifo.Fifo, error) {
	var views []fifo.Fifo
	for _, edgeIdx := range v.OutputEdges {
		if edgeIdx == -1 {
			continue
		}
		rate, err := evalRate(t.Handler.Graph.Edge(edgeIdx), t.Handler)
		if err != nil {
			return nil, err
		}
		synthetic := depType{
			Owner:          t.Handler,
			ProducerVertex: v.Index,
			ProducerEdge:   edgeIdx,
			FiringStart:    t.FiringIndex,
			FiringEnd:      t.FiringIndex,
			MemoryStart:    0,
			MemoryEnd:      rate,
			Rate:           rate,
		}
		out, err := alloc.AllocateNormal([]depType{synthetic}, consumerCount)
		if err != nil {
			return nil, err
		}
		views = append(views, out...)
	}
	return views, nil
}

func uniformCounts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func soleInputDep(ports map[uint32]portDeps, t *scheduler.Task, v *pisdf.Vertex) (depType, error) {
	perPort := ports[t.ID]
	if len(perPort) != 1 || len(perPort[0]) != 1 {
		return depType{}, fmt.Errorf("engine: vertex %q firing %d needs exactly one input dependency, got %v", v.Name, t.FiringIndex, perPort)
	}
	return perPort[0][0], nil
}

func onePerPortInputDeps(ports map[uint32]portDeps, t *scheduler.Task, v *pisdf.Vertex) ([]depType, error) {
	perPort := ports[t.ID]
	if len(perPort) != len(v.InputEdges) {
		return nil, fmt.Errorf("engine: join vertex %q firing %d has %d ports, resolved %d", v.Name, t.FiringIndex, len(v.InputEdges), len(perPort))
	}
	out := make([]depType, len(perPort))
	for i, deps := range perPort {
		if len(deps) != 1 {
			return nil, fmt.Errorf("engine: join vertex %q firing %d port %d needs exactly one dependency, got %d", v.Name, t.FiringIndex, i, len(deps))
		}
		out[i] = deps[0]
	}
	return out, nil
}

// repeatOutputSize evaluates a Repeat vertex's single output port's rate
// for the firing t represents (Repeat always produces exactly one
// output block per firing).
func repeatOutputSize(t *scheduler.Task) (int64, error) {
	v := t.Handler.Graph.Vertex(t.VertexIndex)
	e := t.Handler.Graph.Edge(v.OutputEdges[0])
	return evalRate(e, t.Handler)
}
