package scheduler

import (
	"fmt"
	"sort"

	"github.com/spider2/runtime/internal/archi"
)

// Schedule is the result of mapping and ordering one iteration's tasks.
type Schedule struct {
	Tasks []*Task
}

// Run computes levels, orders tasks by descending level (ties by ascending
// task id), maps each onto a PE by best fit, and builds the
// synchronization list, following spec §4.6. Non-executable tasks are
// appended after the schedulable ones, left unmapped, and given state
// NotSchedulable.
func (b *Builder) Run() (*Schedule, error) {
	if err := Reduce(b, b.tasks); err != nil {
		return nil, err
	}

	execTimes, err := resolveExecTimes(b)
	if err != nil {
		return nil, err
	}

	levels, err := computeLevels(b)
	if err != nil {
		return nil, err
	}
	for _, t := range b.tasks {
		t.level = levels[t.ID]
		t.execTime = execTimes[t.ID]
	}

	ordered := orderTasks(b.tasks)

	localExecCounters := make(map[int]uint32)
	peAvailable := make(map[int]archi.Time)
	for _, t := range ordered {
		if !t.Executable {
			t.State = NotSchedulable
			continue
		}
		if err := mapTask(b, t, localExecCounters, peAvailable); err != nil {
			return nil, err
		}
	}

	if err := buildSyncLists(b, ordered); err != nil {
		return nil, err
	}

	return &Schedule{Tasks: ordered}, nil
}

// resolveExecTimes returns, for every executable task, the smallest
// timing of its kernel over the PEs where it's mappable, failing when no
// PE can run it. Run stores that value as the task's execTime; mapTask
// chooses the PE separately, from each candidate PE's own timing.
func resolveExecTimes(b *Builder) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64, len(b.tasks))
	for _, t := range b.tasks {
		if !t.Executable {
			continue
		}
		best := archi.Unmappable
		for _, pe := range b.platform.PEs {
			if timing := pe.Timing(t.KernelIndex); timing < best {
				best = timing
			}
		}
		if best == archi.Unmappable {
			return nil, fmt.Errorf("%w: kernel %d (task %d) is not mappable on any PE", ErrScheduling, t.KernelIndex, t.ID)
		}
		out[t.ID] = best
	}
	return out, nil
}

// computeLevels memoizes level(v,k) = 0 if no successor firing exists in
// this task set, else max over successor tasks of level+execTime. The
// recursion follows dependency edges backwards (every task T's Deps name
// its predecessors; T is therefore a successor of each of those
// predecessor tasks).
func computeLevels(b *Builder) (map[uint32]int64, error) {
	successors := make(map[uint32][]*Task)
	for _, t := range b.tasks {
		if !t.Executable {
			continue
		}
		for _, d := range t.Deps {
			pred, err := b.producerTask(d)
			if err != nil {
				return nil, err
			}
			successors[pred.ID] = append(successors[pred.ID], t)
		}
	}

	levels := make(map[uint32]int64, len(b.tasks))
	var visiting map[uint32]bool = make(map[uint32]bool)

	var levelOf func(t *Task) (int64, error)
	levelOf = func(t *Task) (int64, error) {
		if lv, ok := levels[t.ID]; ok {
			return lv, nil
		}
		if visiting[t.ID] {
			return 0, fmt.Errorf("%w: dependency cycle detected at task %d", ErrScheduling, t.ID)
		}
		visiting[t.ID] = true
		defer delete(visiting, t.ID)

		succs := successors[t.ID]
		if len(succs) == 0 {
			levels[t.ID] = 0
			return 0, nil
		}
		var max int64
		for _, s := range succs {
			sLevel, err := levelOf(s)
			if err != nil {
				return 0, err
			}
			execTime, err := singleExecTime(b, s)
			if err != nil {
				return 0, err
			}
			total := sLevel + int64(execTime)
			if total > max {
				max = total
			}
		}
		levels[t.ID] = max
		return max, nil
	}

	for _, t := range b.tasks {
		if _, err := levelOf(t); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

func singleExecTime(b *Builder, t *Task) (uint64, error) {
	best := archi.Unmappable
	for _, pe := range b.platform.PEs {
		if timing := pe.Timing(t.KernelIndex); timing < best {
			best = timing
		}
	}
	if best == archi.Unmappable {
		return 0, fmt.Errorf("%w: kernel %d (task %d) is not mappable on any PE", ErrScheduling, t.KernelIndex, t.ID)
	}
	return best, nil
}

// orderTasks sorts by descending level, ties broken by ascending task id,
// with non-executable tasks appended last (in id order) regardless of
// level, per spec §4.6.
func orderTasks(tasks []*Task) []*Task {
	out := append([]*Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Executable != b.Executable {
			return a.Executable // executable tasks sort first
		}
		if a.level != b.level {
			return a.level > b.level
		}
		return a.ID < b.ID
	})
	return out
}

// mapTask implements the best-fit PE mapping rule: t_min is the earliest
// time every dependency is satisfied (accounting for communication cost
// across PEs), and among PEs where t's kernel is mappable we pick the one
// minimizing finish time, ties broken by PE index.
func mapTask(b *Builder, t *Task, localExecCounters map[int]uint32, peAvailable map[int]archi.Time) error {
	bestPE := -1
	var bestEnd, bestStart archi.Time
	for _, pe := range b.platform.PEs {
		timing := pe.Timing(t.KernelIndex)
		if timing == archi.Unmappable {
			continue
		}
		var candidateMin archi.Time
		for _, d := range t.Deps {
			pred, err := b.producerTask(d)
			if err != nil {
				return err
			}
			size := d.MemoryEnd - d.MemoryStart
			if size < 0 {
				size = 0
			}
			commReady := pred.End + b.platform.CommCost(pred.PE, pe.ID, uint64(size))
			if commReady > candidateMin {
				candidateMin = commReady
			}
		}
		start := candidateMin
		if avail := peAvailable[pe.ID]; avail > start {
			start = avail
		}
		end := start + archi.Time(timing)
		if bestPE == -1 || end < bestEnd || (end == bestEnd && pe.ID < bestPE) {
			bestPE = pe.ID
			bestEnd = end
			bestStart = start
		}
	}
	if bestPE == -1 {
		return fmt.Errorf("%w: no PE can map task %d (kernel %d)", ErrScheduling, t.ID, t.KernelIndex)
	}

	t.PE = bestPE
	t.Start = bestStart
	t.End = bestEnd
	t.State = Ready
	peAvailable[bestPE] = bestEnd
	t.LocalExecIx = localExecCounters[bestPE]
	localExecCounters[bestPE]++
	return nil
}

// buildSyncLists fills each task's Sync field: one entry per distinct
// peer PE among its predecessors' PEs, recording the highest local exec
// index that peer must have reached.
func buildSyncLists(b *Builder, ordered []*Task) error {
	for _, t := range ordered {
		if !t.Executable {
			continue
		}
		need := make(map[int]SyncPoint)
		for _, d := range t.Deps {
			pred, err := b.producerTask(d)
			if err != nil {
				return err
			}
			if pred.PE == t.PE {
				continue
			}
			sp, ok := need[pred.PE]
			if !ok || pred.LocalExecIx > sp.ExecIx {
				need[pred.PE] = SyncPoint{PeerPE: pred.PE, ExecIx: pred.LocalExecIx, Rate: d.Rate}
			}
		}
		for _, sp := range need {
			t.Sync = append(t.Sync, sp)
		}
		sort.Slice(t.Sync, func(i, j int) bool { return t.Sync[i].PeerPE < t.Sync[j].PeerPE })
	}
	return nil
}
