package engine

import (
	"fmt"

	"github.com/spider2/runtime/internal/dependency"
	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
	"github.com/spider2/runtime/internal/scheduler"
)

// portDeps holds, for one task, the dependency records demanded on each
// of its input ports separately — lost once flattened into
// scheduler.Task's single Deps slice, but needed here to call the right
// per-port fifo.Allocate* method for a structural vertex.
type portDeps [][]dependency.ExecDependencyInfo

// expand walks h's graph (and recursively every resolved child
// handler's), registering one scheduler task per (vertex, firing) pair
// whose vertex accept returns true, with its dependencies resolved
// against every input port. ports collects each task's per-port
// dependency grouping, keyed by task id.
func expand(b *scheduler.Builder, h *firing.Handler, accept func(*pisdf.Vertex) bool, ports map[uint32]portDeps) error {
	for _, v := range h.Graph.Vertices {
		if v.Type == pisdf.GraphType || !accept(v) {
			continue
		}
		count := h.BRV[v.Index]
		for firingIx := uint32(0); firingIx < count; firingIx++ {
			task := b.AddTask(h, v.Index, firingIx, v.KernelIndex)
			perPort, flat, err := resolveVertexDeps(h, v, firingIx)
			if err != nil {
				return fmt.Errorf("engine: resolving dependencies of %q firing %d: %w", v.Name, firingIx, err)
			}
			b.SetDependencies(task, flat)
			ports[task.ID] = perPort
		}
	}

	for _, v := range h.Graph.Vertices {
		if v.Type != pisdf.GraphType || v.Subgraph == nil {
			continue
		}
		count := h.BRV[v.Index]
		for firingIx := uint32(0); firingIx < count; firingIx++ {
			child, err := h.ChildFor(v.Index, firingIx)
			if err != nil {
				return err
			}
			if !child.Resolved() {
				if err := child.ResolveBRV(); err != nil {
					return fmt.Errorf("engine: resolving subgraph %q firing %d: %w", v.Name, firingIx, err)
				}
			}
			if err := expand(b, child, accept, ports); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveVertexDeps resolves, for every input port of v's firingIx'th
// firing, the exec dependencies covering that port's whole per-firing
// rate window, returning both the per-port grouping and the flattened
// list scheduler.Task stores.
func resolveVertexDeps(h *firing.Handler, v *pisdf.Vertex, firingIx uint32) (portDeps, []dependency.ExecDependencyInfo, error) {
	perPort := make(portDeps, len(v.InputEdges))
	var flat []dependency.ExecDependencyInfo
	for port, edgeIdx := range v.InputEdges {
		if edgeIdx == -1 {
			continue
		}
		e := h.Graph.Edge(edgeIdx)
		rate, err := expr.Eval(e.SinkRate, h.Params)
		if err != nil {
			return nil, nil, err
		}
		lo := int64(firingIx) * rate
		deps, err := dependency.Resolve(h, edgeIdx, lo, lo+rate)
		if err != nil {
			return nil, nil, err
		}
		perPort[port] = deps
		flat = append(flat, deps...)
	}
	return perPort, flat, nil
}

// classifyDynamic implements spec §4.9's one-time preprocessing pass: it
// marks every vertex of g forward-reachable (through edges) from a
// CONFIG vertex's output as belonging to the "run" portion, scheduled
// only once that CONFIG vertex's outputs are known. Every other vertex,
// including the CONFIG vertices themselves, belongs to the "init"
// portion and can be scheduled immediately with the parameters already
// resolved.
func classifyDynamic(g *pisdf.Graph) map[int]bool {
	run := make(map[int]bool)
	visited := make(map[int]bool)
	var queue []int
	for _, v := range g.Vertices {
		if v.Type == pisdf.Config {
			queue = append(queue, v.Index)
			visited[v.Index] = true
		}
	}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		v := g.Vertex(idx)
		for _, eIdx := range v.OutputEdges {
			if eIdx == -1 {
				continue
			}
			sink := g.Edge(eIdx).SinkVertex
			if visited[sink] {
				continue
			}
			visited[sink] = true
			run[sink] = true
			queue = append(queue, sink)
		}
	}
	return run
}
