// Package export implements spec §6's out-of-core reporting formats:
// Gantt charts (XML or SVG) and a Graphviz SRDAG dump of one executed
// schedule, plus a per-PE statistics summary. Every writer here consumes
// only scheduler.Schedule and its Task list — never the reverse — so the
// core runtime algorithm has no dependency on how (or whether) its
// output is ever rendered.
//
// The DOT writer's attribute-quoting idiom (sorted keys, selective
// identifier quoting, buffered incremental writes) is grounded on
// internal/dag/graphviz's Graphviz-language writer; that package's
// actual Graph/Node abstraction is built on top of a generic dag.Graph
// type this repository does not have, so it is adapted here directly
// against *scheduler.Task rather than carried over as a dependency.
package export

import "fmt"

// peColor picks a stable, visually distinct color for PE index pe, used
// by both the XML and SVG Gantt writers so the same PE renders
// identically in either format.
func peColor(pe int) string {
	palette := []string{
		"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728",
		"#9467bd", "#8c564b", "#e377c2", "#7f7f7f",
		"#bcbd22", "#17becf",
	}
	return palette[pe%len(palette)]
}

func xmlEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			out = append(out, "&amp;"...)
		case '<':
			out = append(out, "&lt;"...)
		case '>':
			out = append(out, "&gt;"...)
		case '"':
			out = append(out, "&quot;"...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func taskTitle(vertexName string, firingIndex uint32) string {
	return fmt.Sprintf("%s.%d", vertexName, firingIndex)
}
