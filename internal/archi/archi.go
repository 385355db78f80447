// Package archi models the target multi-core platform: processing
// elements grouped into clusters, their per-kernel timing tables, and the
// inter-cluster communication cost used by the scheduler's mapper.
//
// Grounded on original_source/libspider/archi/MemoryUnit.h: the original
// couples memory units to clusters so that the FIFO allocator and the
// scheduler's communication-cost model both reason about the same
// cluster topology. spec.md's distillation left this as an opaque
// "configured per-cluster-pair cost" callback; here it's a first-class,
// constructible type.
package archi

import "fmt"

// Unmappable marks a (kernel, PE) timing entry meaning the kernel cannot
// execute on that PE at all (spec: "timing being < UINT64_MAX" determines
// mappability).
const Unmappable = ^uint64(0)

// Time is a monotonic duration or timestamp expressed in nanoseconds of
// simulated execution time. It is used uniformly by the scheduler (task
// start/end), the runners (execution wall-clock), and the stats/gantt
// exporters.
type Time uint64

// Cluster groups processing elements that share local memory: edges
// mapped entirely within one cluster incur zero communication cost.
type Cluster struct {
	ID   int
	Name string
}

// PE is one processing element: a target for mapping vertex firings.
type PE struct {
	ID        int
	Name      string
	ClusterID int

	// timings maps kernel index to the number of Time units one firing of
	// that kernel takes on this PE. A missing entry or a value of
	// Unmappable means the kernel cannot run here.
	timings map[int]uint64
}

// NewPE creates a processing element belonging to the given cluster.
func NewPE(id int, name string, clusterID int) *PE {
	return &PE{ID: id, Name: name, ClusterID: clusterID, timings: make(map[int]uint64)}
}

// SetTiming records that one firing of kernelIndex takes cycles Time
// units on p. Pass archi.Unmappable to mark the kernel as not mappable
// here.
func (p *PE) SetTiming(kernelIndex int, cycles uint64) {
	p.timings[kernelIndex] = cycles
}

// Timing returns the recorded timing for kernelIndex, or Unmappable if
// none was set.
func (p *PE) Timing(kernelIndex int) uint64 {
	if t, ok := p.timings[kernelIndex]; ok {
		return t
	}
	return Unmappable
}

// Mappable reports whether kernelIndex can execute on p at all.
func (p *PE) Mappable(kernelIndex int) bool {
	return p.Timing(kernelIndex) != Unmappable
}

// Platform is the full target description: a set of PEs grouped into
// clusters, plus the inter-cluster communication cost matrix used by the
// scheduler when a task's predecessor is mapped to a different cluster.
type Platform struct {
	PEs      []*PE
	Clusters []*Cluster

	// commCostPerByte[a][b] is the fixed per-byte communication cost
	// between cluster a and cluster b (symmetric; commCostPerByte[a][a]
	// is always 0, since intra-cluster communication is free/shared
	// memory).
	commCostPerByte map[[2]int]uint64
}

// NewPlatform creates an empty platform.
func NewPlatform() *Platform {
	return &Platform{commCostPerByte: make(map[[2]int]uint64)}
}

// AddCluster registers a new cluster and returns it.
func (p *Platform) AddCluster(name string) *Cluster {
	c := &Cluster{ID: len(p.Clusters), Name: name}
	p.Clusters = append(p.Clusters, c)
	return c
}

// AddPE registers a new processing element belonging to clusterID.
func (p *Platform) AddPE(name string, clusterID int) (*PE, error) {
	if clusterID < 0 || clusterID >= len(p.Clusters) {
		return nil, fmt.Errorf("archi: cluster id %d out of range [0,%d)", clusterID, len(p.Clusters))
	}
	pe := NewPE(len(p.PEs), name, clusterID)
	p.PEs = append(p.PEs, pe)
	return pe, nil
}

// SetClusterCommCost sets the symmetric per-byte communication cost
// between two clusters.
func (p *Platform) SetClusterCommCost(a, b int, perByte uint64) {
	p.commCostPerByte[[2]int{a, b}] = perByte
	p.commCostPerByte[[2]int{b, a}] = perByte
}

// CommCost returns the communication cost, in Time units, of moving
// sizeBytes of data from fromPE to toPE. It is zero when both PEs are in
// the same cluster (shared memory).
func (p *Platform) CommCost(fromPE, toPE int, sizeBytes uint64) Time {
	from, to := p.PEs[fromPE], p.PEs[toPE]
	if from.ClusterID == to.ClusterID {
		return 0
	}
	perByte := p.commCostPerByte[[2]int{from.ClusterID, to.ClusterID}]
	return Time(perByte * sizeBytes)
}
