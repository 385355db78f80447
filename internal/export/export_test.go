package export

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/dependency"
	"github.com/spider2/runtime/internal/expr"
	"github.com/spider2/runtime/internal/firing"
	"github.com/spider2/runtime/internal/pisdf"
	"github.com/spider2/runtime/internal/scheduler"
)

// chainSchedule builds and schedules the two-task chain A -(4)-> C across
// two PEs in separate clusters, with a non-zero cross-cluster comm cost,
// so the Gantt/DOT/statistics writers have non-trivial start/end/PE
// values to render.
func chainSchedule(t *testing.T) *scheduler.Schedule {
	t.Helper()
	g := pisdf.NewGraph("g")
	a, err := g.AddVertex(pisdf.Normal, "A", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := g.AddVertex(pisdf.Normal, "C", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	edge, err := g.AddEdge(a.Index, 0, c.Index, 0, expr.Const(4), expr.Const(4), nil)
	if err != nil {
		t.Fatal(err)
	}
	h := firing.New(nil, g, 0)
	if err := h.ResolveBRV(); err != nil {
		t.Fatal(err)
	}

	p := archi.NewPlatform()
	p.AddCluster("c0")
	p.AddCluster("c1")
	pe0, err := p.AddPE("pe0", 0)
	if err != nil {
		t.Fatal(err)
	}
	pe1, err := p.AddPE("pe1", 1)
	if err != nil {
		t.Fatal(err)
	}
	pe0.SetTiming(0, 10)
	pe1.SetTiming(1, 5)
	p.SetClusterCommCost(0, 1, 2)

	b := scheduler.NewBuilder(p)
	taskA := b.AddTask(h, a.Index, 0, 0)
	taskC := b.AddTask(h, c.Index, 0, 1)
	deps, err := dependency.Resolve(h, edge.Index, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	b.SetDependencies(taskC, deps)
	_ = taskA

	sched, err := b.Run()
	if err != nil {
		t.Fatal(err)
	}
	return sched
}

func TestWriteGanttXMLEmitsOneEventPerTask(t *testing.T) {
	sched := chainSchedule(t)
	var buf strings.Builder
	if err := WriteGanttXML(&buf, sched); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "<data>\n") || !strings.HasSuffix(out, "</data>\n") {
		t.Fatalf("expected a <data> root element, got:\n%s", out)
	}
	if strings.Count(out, "<event ") != 2 {
		t.Fatalf("expected 2 <event> elements, got:\n%s", out)
	}
	if !strings.Contains(out, `title="A.0"`) || !strings.Contains(out, `title="C.0"`) {
		t.Fatalf("expected titles A.0 and C.0, got:\n%s", out)
	}
}

func TestWriteGanttSVGScalesToMakespan(t *testing.T) {
	sched := chainSchedule(t)
	var buf strings.Builder
	if err := WriteGanttSVG(&buf, sched, 2); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "<svg ") {
		t.Fatalf("expected an <svg> root element, got:\n%s", out)
	}
	if strings.Count(out, "<rect ") != 2 {
		t.Fatalf("expected 2 <rect> elements, got:\n%s", out)
	}
}

func TestWriteSRDAGDotLabelsNodesAndEdges(t *testing.T) {
	sched := chainSchedule(t)
	var buf strings.Builder
	if err := WriteSRDAGDot(&buf, sched); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "digraph srdag {\n") || !strings.HasSuffix(out, "}\n") {
		t.Fatalf("expected a digraph wrapper, got:\n%s", out)
	}
	if !strings.Contains(out, `label="A.0"`) || !strings.Contains(out, `label="C.0"`) {
		t.Fatalf("expected node labels A.0 and C.0, got:\n%s", out)
	}
	if !strings.Contains(out, `-> t1 [label="4"]`) {
		t.Fatalf("expected an edge labeled with the 4-token rate, got:\n%s", out)
	}
}

func TestPEStatisticsComputesLoadIdleAndUtilization(t *testing.T) {
	sched := chainSchedule(t)
	stats := PEStatistics(sched)
	if len(stats) != 2 {
		t.Fatalf("expected 2 PE blocks, got %d", len(stats))
	}

	want := []PEStat{
		{PE: 0, JobCount: 1, Start: 0, End: 10, LoadTime: 10, IdleTime: 0, Utilization: 1, Schedule: []TimeSlot{{Start: 0, End: 10}}},
		{PE: 1, JobCount: 1, Start: 18, End: 23, LoadTime: 5, IdleTime: 0, Utilization: 1, Schedule: []TimeSlot{{Start: 18, End: 23}}},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("unexpected statistics (-want +got):\n%s", diff)
	}
}

func TestWriteStatisticsFormatsEachBlock(t *testing.T) {
	sched := chainSchedule(t)
	var buf strings.Builder
	if err := WriteStatistics(&buf, sched); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "PE 0: jobs=1 start=0 end=10 load=10 idle=0 utilization=1.0000") {
		t.Fatalf("unexpected PE 0 block, got:\n%s", out)
	}
	if !strings.Contains(out, "  [0,10]") {
		t.Fatalf("expected a schedule line for PE 0, got:\n%s", out)
	}
}
