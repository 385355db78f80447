// Package scheduler converts ready (vertex, firing) pairs into scheduler
// tasks, orders them by critical-path level, maps them onto processing
// elements with a best-fit heuristic that accounts for communication
// cost, and reduces the resulting task graph to a fixpoint via the
// structural simplifications of spec §4.6.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/dependency"
	"github.com/spider2/runtime/internal/firing"
)

// ErrScheduling is the sentinel wrapped by every fatal scheduling failure
// (no PE can run a task's kernel, a dependency points at an unscheduled
// task, ...).
var ErrScheduling = errors.New("scheduling error")

// TaskState is one state in a task's lifecycle for the current iteration.
type TaskState int

const (
	NotSchedulable TaskState = iota
	Pending
	Ready
	Running
	Completed
)

func (s TaskState) String() string {
	switch s {
	case NotSchedulable:
		return "NOT_SCHEDULABLE"
	case Pending:
		return "PENDING"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// SyncPoint is one entry of a task's synchronization list (spec §4.6):
// before running, the worker hosting this task must observe peer PE
// PeerPE's localJobStampsArray entry reach at least ExecIx.
type SyncPoint struct {
	PeerPE int
	ExecIx uint32
	Rate   int64
}

// Task is one scheduler-side execution unit: a single firing of a
// vertex, with its resolved dependencies, PE mapping, and timing.
type Task struct {
	ID          uint32
	VertexIndex int
	FiringIndex uint32
	Handler     *firing.Handler
	Deps        []dependency.ExecDependencyInfo

	// KernelIndex names the kernel this task runs; its timing on each PE
	// is looked up on the platform during scheduling.
	KernelIndex int

	PE          int
	LocalExecIx uint32 // this task's position within its PE's job queue
	Start, End  archi.Time
	State       TaskState
	Broadcast   bool
	Sync        []SyncPoint

	// Executable is false for structural vertices collapsed by Reduce
	// (e.g. an eliminated Repeat) or explicitly non-executable firings
	// (rv=0): such tasks are computed for bookkeeping but never emitted.
	Executable bool

	level    int64
	execTime uint64
}

// Builder accumulates tasks for one iteration (or one static/dynamic
// half-iteration) before scheduling.
type Builder struct {
	platform *archi.Platform
	tasks    []*Task
	byID     map[uint32]*Task
	nextID   uint32
}

// NewBuilder creates an empty task builder targeting platform.
func NewBuilder(platform *archi.Platform) *Builder {
	return &Builder{platform: platform, byID: make(map[uint32]*Task)}
}

// AddTask registers a new task for one (vertexIndex, firingIndex) pair
// of h's graph, records it in h's task-index table, and returns it.
func (b *Builder) AddTask(h *firing.Handler, vertexIndex int, firingIndex uint32, kernelIndex int) *Task {
	t := &Task{
		ID:          b.nextID,
		VertexIndex: vertexIndex,
		FiringIndex: firingIndex,
		Handler:     h,
		KernelIndex: kernelIndex,
		State:       Pending,
		Executable:  true,
	}
	b.nextID++
	b.tasks = append(b.tasks, t)
	b.byID[t.ID] = t
	h.RegisterTaskIx(vertexIndex, firingIndex, t.ID)
	return t
}

// SetDependencies attaches deps (as resolved by internal/dependency) to
// t, each of whose Owner handler must already have registered a task id
// for its producer vertex/firing via AddTask.
func (b *Builder) SetDependencies(t *Task, deps []dependency.ExecDependencyInfo) {
	t.Deps = deps
}

// Tasks returns every task registered so far, in registration order.
func (b *Builder) Tasks() []*Task { return append([]*Task(nil), b.tasks...) }

// ConsumerCounts reports, for every executable task's id, how many
// distinct executable tasks depend on it directly — the seed value for
// a freshly allocated Fifo's reference count (spec §4.7: "count =
// number of consumer tasks"). A task depending on the same producer
// through more than one dependency record (e.g. a merged window) still
// counts once.
func ConsumerCounts(b *Builder, tasks []*Task) (map[uint32]int, error) {
	counts := make(map[uint32]int)
	for _, t := range tasks {
		if !t.Executable {
			continue
		}
		seen := make(map[uint32]bool)
		for _, d := range t.Deps {
			pred, err := b.producerTask(d)
			if err != nil {
				return nil, err
			}
			if seen[pred.ID] {
				continue
			}
			seen[pred.ID] = true
			counts[pred.ID]++
		}
	}
	return counts, nil
}

func (b *Builder) producerTask(d dependency.ExecDependencyInfo) (*Task, error) {
	id := d.Owner.GetTaskIx(d.ProducerVertex, d.FiringStart)
	if id == firing.Unscheduled {
		return nil, fmt.Errorf("%w: no task registered for producer vertex %d firing %d", ErrScheduling, d.ProducerVertex, d.FiringStart)
	}
	t, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: dependency points at unknown task id %d", ErrScheduling, id)
	}
	return t, nil
}
