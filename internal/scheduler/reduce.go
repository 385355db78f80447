package scheduler

import (
	"github.com/spider2/runtime/internal/dependency"
	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/pisdf"
)

// Reduce applies the structural simplifications of spec §4.6 to tasks,
// iterating passes to a fixpoint: eliminating one task can expose another
// (e.g. removing a Repeat can leave a Fork with a single remaining
// consumer). A simplified task is marked non-executable and its
// consumers are rewired to depend directly on its own producers, so the
// FIFO allocator can later alias the data through rather than have a PE
// spend a job copying it. Order within a pass is by ascending task id,
// so results are deterministic regardless of slice order.
func Reduce(b *Builder, tasks []*Task) error {
	for {
		consumers, err := buildConsumerIndex(b, tasks)
		if err != nil {
			return err
		}

		changed := false
		for _, t := range tasks {
			if !t.Executable {
				continue
			}
			v := t.Handler.Graph.Vertex(t.VertexIndex)

			switch v.Type {
			case pisdf.Repeat:
				eq, err := repeatIsIdentity(t, v)
				if err != nil {
					return err
				}
				if eq {
					spliceOut(b, tasks, t)
					changed = true
				}

			case pisdf.Duplicate:
				if len(v.OutputEdges) == 1 {
					spliceOut(b, tasks, t)
					changed = true
				}

			case pisdf.Fork:
				if len(v.OutputEdges) == 1 {
					spliceOut(b, tasks, t)
					changed = true
					continue
				}
				if j := soleConsumerOfType(consumers, t, pisdf.Join); j != nil && allDepsProducedBy(b, j, t) {
					// A Fork whose whole output is consumed by one Join
					// that in turn depends on nothing but this Fork is a
					// pure split-then-rejoin: the round trip nets out to
					// nothing (spec §4.6 scenario S3).
					foldForkJoinPair(tasks, b, t, j)
					changed = true
					continue
				}
				if sole := soleConsumerOfType(consumers, t, pisdf.Fork); sole != nil {
					spliceOut(b, tasks, t)
					changed = true
				}

			case pisdf.Join:
				if sole := soleConsumerOfType(consumers, t, pisdf.Join); sole != nil {
					spliceOut(b, tasks, t)
					changed = true
					continue
				}
				if end := soleConsumerOfType(consumers, t, pisdf.End); end != nil {
					t.Executable = false
					end.Executable = false
					changed = true
				}
			}
		}

		if !changed {
			return nil
		}
	}
}

// buildConsumerIndex maps each executable task's id to the executable
// tasks that depend on it (directly, via one of their Deps).
func buildConsumerIndex(b *Builder, tasks []*Task) (map[uint32][]*Task, error) {
	consumers := make(map[uint32][]*Task)
	for _, t := range tasks {
		if !t.Executable {
			continue
		}
		for _, d := range t.Deps {
			pred, err := b.producerTask(d)
			if err != nil {
				return nil, err
			}
			consumers[pred.ID] = append(consumers[pred.ID], t)
		}
	}
	return consumers, nil
}

// soleConsumerOfType returns t's single consumer if there is exactly one
// and it is of the given vertex type, else nil. A consumer listed several
// times (one dependency record per port it reads from t) counts once.
func soleConsumerOfType(consumers map[uint32][]*Task, t *Task, want pisdf.VertexType) *Task {
	cs := consumers[t.ID]
	if len(cs) == 0 {
		return nil
	}
	c := cs[0]
	for _, other := range cs[1:] {
		if other != c {
			return nil
		}
	}
	if c.Handler.Graph.Vertex(c.VertexIndex).Type != want {
		return nil
	}
	return c
}

// repeatIsIdentity reports whether a Repeat vertex's input and output
// rates are equal, making it a pure passthrough.
func repeatIsIdentity(t *Task, v *pisdf.Vertex) (bool, error) {
	inEdge := t.Handler.Graph.Edge(v.InputEdges[0])
	outEdge := t.Handler.Graph.Edge(v.OutputEdges[0])
	inRate, err := expr.Eval(inEdge.SinkRate, t.Handler.Params)
	if err != nil {
		return false, err
	}
	outRate, err := expr.Eval(outEdge.SourceRate, t.Handler.Params)
	if err != nil {
		return false, err
	}
	return inRate == outRate, nil
}

// allDepsProducedBy reports whether every one of j's dependencies is
// produced by f, and j has at least one dependency.
func allDepsProducedBy(b *Builder, j, f *Task) bool {
	if len(j.Deps) == 0 {
		return false
	}
	for _, d := range j.Deps {
		pred, err := b.producerTask(d)
		if err != nil || pred.ID != f.ID {
			return false
		}
	}
	return true
}

// foldForkJoinPair marks both f and j non-executable: j's consumers
// inherit f's own producer dependencies directly, erasing the
// split-then-rejoin round trip in one step rather than composing two
// spliceOut calls (which would duplicate f's upstream dependency once
// per output port it had split into).
func foldForkJoinPair(tasks []*Task, b *Builder, f, j *Task) {
	f.Executable = false
	j.Executable = false
	for _, other := range tasks {
		if other == f || other == j || !other.Executable {
			continue
		}
		var rewritten []dependency.ExecDependencyInfo
		changed := false
		for _, d := range other.Deps {
			pred, err := b.producerTask(d)
			if err == nil && pred.ID == j.ID {
				rewritten = append(rewritten, f.Deps...)
				changed = true
				continue
			}
			rewritten = append(rewritten, d)
		}
		if changed {
			other.Deps = rewritten
		}
	}
}

// spliceOut marks t non-executable and rewires every task that depended
// on it to instead carry t's own dependency records: t's consumers
// inherit t's producers directly, collapsing t out of the chain.
func spliceOut(b *Builder, tasks []*Task, t *Task) {
	t.Executable = false
	for _, other := range tasks {
		if other == t || !other.Executable {
			continue
		}
		var rewritten []dependency.ExecDependencyInfo
		changed := false
		for _, d := range other.Deps {
			pred, err := b.producerTask(d)
			if err == nil && pred.ID == t.ID {
				rewritten = append(rewritten, t.Deps...)
				changed = true
				continue
			}
			rewritten = append(rewritten, d)
		}
		if changed {
			other.Deps = rewritten
		}
	}
}
