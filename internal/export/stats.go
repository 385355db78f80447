package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/scheduler"
)

// peStats is one PE's spec §6 statistics block.
type peStats struct {
	pe         int
	jobCount   int
	start, end archi.Time
	loadTime   archi.Time
	schedule   []scheduler.Task // for the {start,end} list, in start order
}

// PEStatistics computes sched's per-PE statistics blocks, ordered by PE
// index. A PE with no tasks mapped to it does not appear.
func PEStatistics(sched *scheduler.Schedule) []PEStat {
	byPE := make(map[int]*peStats)
	for _, t := range sched.Tasks {
		if !t.Executable {
			continue
		}
		s, ok := byPE[t.PE]
		if !ok {
			s = &peStats{pe: t.PE, start: archi.Time(^uint64(0))}
			byPE[t.PE] = s
		}
		s.jobCount++
		s.loadTime += t.End - t.Start
		if t.Start < s.start {
			s.start = t.Start
		}
		if t.End > s.end {
			s.end = t.End
		}
		s.schedule = append(s.schedule, *t)
	}

	out := make([]PEStat, 0, len(byPE))
	for _, s := range byPE {
		sort.Slice(s.schedule, func(i, j int) bool { return s.schedule[i].Start < s.schedule[j].Start })
		makespan := s.end - s.start
		var util float64
		if makespan > 0 {
			util = float64(s.loadTime) / float64(makespan)
		}
		slots := make([]TimeSlot, len(s.schedule))
		for i, t := range s.schedule {
			slots[i] = TimeSlot{Start: t.Start, End: t.End}
		}
		out = append(out, PEStat{
			PE:          s.pe,
			JobCount:    s.jobCount,
			Start:       s.start,
			End:         s.end,
			LoadTime:    s.loadTime,
			IdleTime:    makespan - s.loadTime,
			Utilization: util,
			Schedule:    slots,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PE < out[j].PE })
	return out
}

// TimeSlot is one task's [Start, End) occupancy of a PE.
type TimeSlot struct {
	Start, End archi.Time
}

// PEStat is one PE's statistics block (spec §6): job count, active
// window, load/idle time, utilization, and its ordered schedule.
type PEStat struct {
	PE          int
	JobCount    int
	Start, End  archi.Time
	LoadTime    archi.Time
	IdleTime    archi.Time
	Utilization float64
	Schedule    []TimeSlot
}

// WriteStatistics writes sched's per-PE statistics blocks as plain text,
// one block per PE.
func WriteStatistics(w io.Writer, sched *scheduler.Schedule) error {
	for _, s := range PEStatistics(sched) {
		_, err := fmt.Fprintf(w, "PE %d: jobs=%d start=%d end=%d load=%d idle=%d utilization=%.4f\n",
			s.PE, s.JobCount, s.Start, s.End, s.LoadTime, s.IdleTime, s.Utilization)
		if err != nil {
			return err
		}
		for _, slot := range s.Schedule {
			if _, err := fmt.Fprintf(w, "  [%d,%d]\n", slot.Start, slot.End); err != nil {
				return err
			}
		}
	}
	return nil
}
