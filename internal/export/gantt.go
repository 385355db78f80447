package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/spider2/runtime/internal/scheduler"
)

// executableTasksByStart returns sched's executable tasks ordered by
// start time (ties broken by PE, then task id), the order both Gantt
// writers render in.
func executableTasksByStart(sched *scheduler.Schedule) []*scheduler.Task {
	var out []*scheduler.Task
	for _, t := range sched.Tasks {
		if t.Executable {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.PE != b.PE {
			return a.PE < b.PE
		}
		return a.ID < b.ID
	})
	return out
}

// WriteGanttXML writes sched as the spec §6 XML gantt document: a root
// <data> element with one <event> child per executable task.
func WriteGanttXML(w io.Writer, sched *scheduler.Schedule) error {
	if _, err := fmt.Fprintln(w, "<data>"); err != nil {
		return err
	}
	for _, t := range executableTasksByStart(sched) {
		v := t.Handler.Graph.Vertex(t.VertexIndex)
		title := xmlEscape(taskTitle(v.Name, t.FiringIndex))
		_, err := fmt.Fprintf(w, "  <event start=\"%d\" end=\"%d\" title=\"%s\" mapping=\"%d\" color=\"%s\">%s.</event>\n",
			t.Start, t.End, title, t.PE, peColor(t.PE), title)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "</data>")
	return err
}

// ganttSVGLayout fixes the pixel geometry WriteGanttSVG lays its grid out
// with: a fixed row height per PE and a time axis scaled so that the
// shortest task is at least widthMin pixels wide and the longest is no
// more than widthMax.
type ganttSVGLayout struct {
	rowHeight   float64
	marginLeft  float64
	marginTop   float64
	widthMin    float64
	widthMax    float64
}

var defaultSVGLayout = ganttSVGLayout{rowHeight: 24, marginLeft: 80, marginTop: 20, widthMin: 4, widthMax: 400}

// WriteGanttSVG writes sched as an SVG gantt chart: time on the X axis,
// one row per PE on the Y axis, one colored rectangle per executable
// task. Rectangle widths are linearly scaled from simulated time into
// [widthMin, widthMax] pixels so that a makespan of zero-width tasks
// (all timings equal) still renders visibly.
func WriteGanttSVG(w io.Writer, sched *scheduler.Schedule, numPE int) error {
	layout := defaultSVGLayout
	tasks := executableTasksByStart(sched)

	var makespan uint64
	var minDur, maxDur uint64 = ^uint64(0), 0
	for _, t := range tasks {
		if end := uint64(t.End); end > makespan {
			makespan = end
		}
		dur := uint64(t.End - t.Start)
		if dur < minDur {
			minDur = dur
		}
		if dur > maxDur {
			maxDur = dur
		}
	}
	if len(tasks) == 0 || makespan == 0 {
		makespan = 1
	}

	pxPerUnit := layout.widthMax / float64(makespan)
	if pxPerUnit*float64(minDur) < layout.widthMin && maxDur > 0 {
		pxPerUnit = layout.widthMin / float64(minDur+1)
	}
	if pxPerUnit*float64(maxDur) > layout.widthMax {
		pxPerUnit = layout.widthMax / float64(maxDur)
	}

	width := layout.marginLeft + float64(makespan)*pxPerUnit + 20
	height := layout.marginTop + float64(numPE)*layout.rowHeight + 20

	if _, err := fmt.Fprintf(w, "<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"%.1f\" height=\"%.1f\">\n", width, height); err != nil {
		return err
	}
	for pe := 0; pe < numPE; pe++ {
		y := layout.marginTop + float64(pe)*layout.rowHeight
		_, err := fmt.Fprintf(w, "  <text x=\"2\" y=\"%.1f\">PE%d</text>\n", y+layout.rowHeight*0.7, pe)
		if err != nil {
			return err
		}
	}
	for _, t := range tasks {
		v := t.Handler.Graph.Vertex(t.VertexIndex)
		title := xmlEscape(taskTitle(v.Name, t.FiringIndex))
		x := layout.marginLeft + float64(t.Start)*pxPerUnit
		rectWidth := float64(t.End-t.Start) * pxPerUnit
		if rectWidth < layout.widthMin {
			rectWidth = layout.widthMin
		}
		y := layout.marginTop + float64(t.PE)*layout.rowHeight
		_, err := fmt.Fprintf(w, "  <rect x=\"%.1f\" y=\"%.1f\" width=\"%.1f\" height=\"%.1f\" fill=\"%s\"><title>%s</title></rect>\n",
			x, y+2, rectWidth, layout.rowHeight-4, peColor(t.PE), title)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "</svg>")
	return err
}
