package export

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/spider2/runtime/internal/scheduler"
)

var validUnquotedID = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// quoteDOTID quotes s as a Graphviz identifier, leaving it bare when it
// already satisfies Graphviz's unquoted-identifier grammar.
func quoteDOTID(s string) string {
	if validUnquotedID.MatchString(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// WriteSRDAGDot writes sched's executable tasks as a Graphviz digraph
// (spec §6): one node per task, labeled "vertex.firing", and one edge
// per resolved dependency, labeled with the token count it carries.
// Nodes and edges are emitted in a deterministic (task id) order so
// repeated exports of the same schedule diff cleanly.
func WriteSRDAGDot(w io.Writer, sched *scheduler.Schedule) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("digraph srdag {\n"); err != nil {
		return err
	}

	tasks := make([]*scheduler.Task, 0, len(sched.Tasks))
	byID := make(map[uint32]*scheduler.Task, len(sched.Tasks))
	for _, t := range sched.Tasks {
		if !t.Executable {
			continue
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	for _, t := range tasks {
		v := t.Handler.Graph.Vertex(t.VertexIndex)
		label := taskTitle(v.Name, t.FiringIndex)
		_, err := fmt.Fprintf(bw, "  %s [label=%s];\n", nodeID(t.ID), quoteDOTID(label))
		if err != nil {
			return err
		}
	}

	for _, t := range tasks {
		for _, d := range t.Deps {
			predID := d.Owner.GetTaskIx(d.ProducerVertex, d.FiringStart)
			pred, ok := byID[predID]
			if !ok {
				continue // a dependency on a task outside this schedule (e.g. a different half-iteration)
			}
			size := int64(d.FiringEnd-d.FiringStart)*d.Rate + d.MemoryEnd - d.MemoryStart
			_, err := fmt.Fprintf(bw, "  %s -> %s [label=%s];\n", nodeID(pred.ID), nodeID(t.ID), quoteDOTID(fmt.Sprintf("%d", size)))
			if err != nil {
				return err
			}
		}
	}

	if _, err := bw.WriteString("}\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func nodeID(taskID uint32) string {
	return fmt.Sprintf("t%d", taskID)
}
