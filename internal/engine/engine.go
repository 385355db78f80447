// Package engine implements the runtime algorithm of spec §4.9: it
// drives one iteration's parameter resolution, BRV computation, firing
// expansion, scheduling, FIFO allocation, and dispatch to
// internal/platform's coordinator, in either of the two modes a graph's
// staticity determines.
//
// A fully-static graph (pisdf.Graph.IsFullyStatic) is resolved once and
// its schedule replayed on every subsequent iteration. A graph carrying
// at least one CONFIG vertex is resolved in two passes per iteration:
// the "init" portion (everything not reachable from a CONFIG vertex's
// output, including the CONFIG vertices themselves) is scheduled and
// dispatched first; its resulting parameter values are applied to the
// FiringHandler tree, which is then re-resolved before the "run"
// portion (every vertex classifyDynamic marked reachable) is scheduled
// and dispatched against the now-known shape.
//
// Grounded on
// original_source/libspider/runtime/algorithm/StaticJITMSRuntime.cpp
// (the static replay loop) and ...FastJITMSRuntime.cpp's two-phase
// config/run split, translated onto this repository's
// brv/firing/dependency/scheduler/fifo pipeline rather than the
// original's SRDAG transformation job stack.
package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/fifo"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
	"github.com/spider2/runtime/internal/platform"
	"github.com/spider2/runtime/internal/scheduler"
)

// ErrEngine is the sentinel wrapped by every fatal runtime-algorithm
// failure.
var ErrEngine = errors.New("engine error")

// Engine drives iterations of a resolved graph against a platform,
// through a platform.Coordinator it owns.
type Engine struct {
	platform *archi.Platform
	coord    *platform.Coordinator

	// static caches the single resolved schedule and job set of a
	// fully-static root graph, built on the first call to RunIteration
	// and replayed on every subsequent one.
	static *preparedIteration
}

// preparedIteration is one mode's fully-built, ready-to-dispatch state:
// a schedule plus the JobMessage for each of its executable tasks.
type preparedIteration struct {
	schedule *scheduler.Schedule
	jobs     map[uint32]platform.JobMessage
}

// New creates an Engine targeting plat, with registry as the shared
// kernel table every runner consults. clock may be nil (archi.RealClock
// is used); traceEnabled turns on trace collection for the export path.
func New(plat *archi.Platform, registry *platform.Registry, clock archi.Clock, traceEnabled bool) *Engine {
	return &Engine{
		platform: plat,
		coord:    platform.NewCoordinator(plat, registry, clock, traceEnabled),
	}
}

// Start launches the engine's runner goroutines under g.
func (e *Engine) Start(ctx context.Context, g *errgroup.Group) { e.coord.Start(ctx, g) }

// Stop requests every runner goroutine to return.
func (e *Engine) Stop() { e.coord.Stop() }

// Traces returns every TraceMessage collected since the last call.
func (e *Engine) Traces() []platform.TraceMessage { return e.coord.Traces() }

// RunIteration executes one iteration of root's graph: for a
// fully-static graph, the schedule is built once and replayed; for a
// dynamic graph, the init portion runs first, its CONFIG outputs are
// applied to root, and the run portion is built and dispatched against
// the updated shape.
func (e *Engine) RunIteration(ctx context.Context, root *firing.Handler) (*scheduler.Schedule, error) {
	if !root.Resolved() {
		if err := root.ResolveBRV(); err != nil {
			return nil, fmt.Errorf("%w: resolving root graph: %v", ErrEngine, err)
		}
	}

	if root.Graph.IsFullyStatic() {
		return e.runStatic(ctx, root)
	}
	return e.runDynamic(ctx, root)
}

// runStatic builds the schedule once (on the first iteration) and
// replays its JobMessages on every call thereafter: a fully-static
// graph's shape and dependency structure never change between
// iterations, only the data flowing through it.
func (e *Engine) runStatic(ctx context.Context, root *firing.Handler) (*scheduler.Schedule, error) {
	if e.static == nil {
		prepared, err := e.prepare(root, func(*pisdf.Vertex) bool { return true })
		if err != nil {
			return nil, err
		}
		e.static = prepared
	}
	if _, err := e.coord.RunIteration(ctx, e.static.schedule.Tasks, e.static.jobs); err != nil {
		return nil, err
	}
	return e.static.schedule, nil
}

// runDynamic implements the two-phase split of spec §4.9. Every
// iteration re-prepares both phases from scratch, since a dynamic
// graph's CONFIG outputs (and therefore its run-portion shape) may
// differ iteration to iteration.
func (e *Engine) runDynamic(ctx context.Context, root *firing.Handler) (*scheduler.Schedule, error) {
	run := classifyDynamic(root.Graph)

	initPrepared, err := e.prepare(root, func(v *pisdf.Vertex) bool { return !run[v.Index] })
	if err != nil {
		return nil, fmt.Errorf("%w: preparing init portion: %v", ErrEngine, err)
	}
	params, err := e.coord.RunIteration(ctx, initPrepared.schedule.Tasks, initPrepared.jobs)
	if err != nil {
		return nil, err
	}
	for _, p := range params {
		if err := applyParamMessage(initPrepared.schedule, p); err != nil {
			return nil, fmt.Errorf("%w: applying config output: %v", ErrEngine, err)
		}
	}

	// SetOutputParam (invoked by applyParamMessage, above) already
	// re-resolves whichever handler owns each config parameter; this
	// covers the root graph itself in the common case where its own
	// CONFIG vertices feed its own downstream edges.
	if !root.Resolved() {
		if err := root.ResolveBRV(); err != nil {
			return nil, fmt.Errorf("%w: re-resolving root graph after config outputs: %v", ErrEngine, err)
		}
	}

	runPrepared, err := e.prepare(root, func(v *pisdf.Vertex) bool { return run[v.Index] })
	if err != nil {
		return nil, fmt.Errorf("%w: preparing run portion: %v", ErrEngine, err)
	}
	if _, err := e.coord.RunIteration(ctx, runPrepared.schedule.Tasks, runPrepared.jobs); err != nil {
		return nil, err
	}

	return &scheduler.Schedule{Tasks: append(append([]*scheduler.Task(nil), initPrepared.schedule.Tasks...), runPrepared.schedule.Tasks...)}, nil
}

// prepare expands every (vertex, firing) pair accept selects across
// root's firing tree into scheduler tasks, schedules them, allocates
// their FIFOs, and builds the resulting JobMessages.
func (e *Engine) prepare(root *firing.Handler, accept func(*pisdf.Vertex) bool) (*preparedIteration, error) {
	b := scheduler.NewBuilder(e.platform)
	ports := make(map[uint32]portDeps)
	if err := expand(b, root, accept, ports); err != nil {
		return nil, err
	}

	sched, err := b.Run()
	if err != nil {
		return nil, err
	}

	counts, err := scheduler.ConsumerCounts(b, sched.Tasks)
	if err != nil {
		return nil, err
	}
	markBroadcast(sched.Tasks)

	alloc := fifo.NewAllocator()
	if err := alloc.AllocatePersistentDelays(root); err != nil {
		return nil, err
	}
	jobs, err := buildJobMessages(sched, ports, alloc, counts)
	if err != nil {
		return nil, err
	}

	return &preparedIteration{schedule: sched, jobs: jobs}, nil
}

// markBroadcast sets Broadcast on every task whose (PE, LocalExecIx) is
// referenced by some other task's Sync list — the set of jobs whose
// completion some peer PE is actually waiting to observe.
func markBroadcast(tasks []*scheduler.Task) {
	type peerPos struct {
		pe     int
		execIx uint32
	}
	needed := make(map[peerPos]bool)
	for _, t := range tasks {
		if !t.Executable {
			continue
		}
		for _, s := range t.Sync {
			needed[peerPos{s.PeerPE, s.ExecIx}] = true
		}
	}
	for _, t := range tasks {
		if t.Executable && needed[peerPos{t.PE, t.LocalExecIx}] {
			t.Broadcast = true
		}
	}
}

// applyParamMessage resolves p.ProducerTaskID back to the FiringHandler
// that owns it and applies each of its output values via
// firing.Handler.SetOutputParam.
func applyParamMessage(sched *scheduler.Schedule, p platform.ParamMessage) error {
	var owner *firing.Handler
	for _, t := range sched.Tasks {
		if t.ID == p.ProducerTaskID {
			owner = t.Handler
			break
		}
	}
	if owner == nil {
		return fmt.Errorf("%w: no task registered for config producer %d", ErrEngine, p.ProducerTaskID)
	}
	if len(p.Values) != len(p.ParamIndices) {
		return fmt.Errorf("%w: config producer %d returned %d values for %d parameter indices", ErrEngine, p.ProducerTaskID, len(p.Values), len(p.ParamIndices))
	}
	for i, idx := range p.ParamIndices {
		if err := owner.SetOutputParam(idx, p.Values[i]); err != nil {
			return err
		}
	}
	return nil
}
