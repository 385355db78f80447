// Package platform implements the runtime platform of spec §4.8: one
// coordinator (the GRT) dispatching JobMessages to N worker runners, one
// per processing element, over per-runner notification queues, with
// job-stamp broadcasts standing in for the explicit cross-PE
// synchronization spec §4.6 precomputes into each task's Sync list.
//
// Grounded on original_source/libspider/runtime/runner/JITMSRTRunner.h
// (the runner loop and its localJobStampsArray) and
// original_source/libspider/runtime/interface/ThreadRTCommunicator.h
// (the notification/indexed-job-message queue pair every runner owns).
package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/fifo"
	"github.com/spider2/runtime/internal/scheduler"
)

// ErrProtocol is returned when a runner observes an ill-formed or
// out-of-order notification.
var ErrProtocol = errors.New("platform: protocol error")

// NotificationKind is the closed set of notifications runners and the
// coordinator exchange, mirroring ThreadRTCommunicator.h's enum.
type NotificationKind int

const (
	LRTStartIteration NotificationKind = iota
	LRTEndIteration
	LRTClear
	LRTStop
	JobNew
	JobUpdateJobStamp
)

func (k NotificationKind) String() string {
	switch k {
	case LRTStartIteration:
		return "LRT_START_ITERATION"
	case LRTEndIteration:
		return "LRT_END_ITERATION"
	case LRTClear:
		return "LRT_CLEAR"
	case LRTStop:
		return "LRT_STOP"
	case JobNew:
		return "JOB_NEW"
	case JobUpdateJobStamp:
		return "JOB_UPDATE_JOBSTAMP"
	default:
		return fmt.Sprintf("NotificationKind(%d)", int(k))
	}
}

// Notification is the fixed-shape message carried on a runner's
// notification queue: a kind, the sender's runner id (-1 for the
// coordinator), and a kind-dependent payload (a job-store index for
// JOB_NEW, a job-queue position for JOB_UPDATE_JOBSTAMP).
type Notification struct {
	Kind    NotificationKind
	Sender  int
	Payload uint32
}

// SyncEntry is a JobMessage's local copy of one scheduler.SyncPoint: the
// peer PE and the position in that peer's job queue this job must
// observe before running.
type SyncEntry struct {
	Peer           int
	ExpectedExecIx uint32
}

// JobMessage is everything a runner needs to execute one task, built by
// internal/engine from a scheduler.Task and its allocated Fifo views.
type JobMessage struct {
	TaskID      uint32
	KernelIndex int

	InputFifos  []fifo.Fifo
	OutputFifos []fifo.Fifo
	InputParams []int64

	// OutputParamIndices names the graph parameter indices a CONFIG
	// kernel's output values correspond to, positionally; empty for
	// every non-CONFIG kernel.
	OutputParamIndices []int

	Sync []SyncEntry

	// Broadcast is true when at least one other PE's task depends on
	// this job's position (spec §4.8: the runner must announce
	// jobQueueCurrentPos to every peer once the job completes).
	Broadcast bool
}

// SyncFromSchedule converts a scheduler task's Sync list into the
// SyncEntry form a JobMessage carries, dropping the Rate field the
// scheduler only needed for its own communication-cost accounting.
func SyncFromSchedule(sync []scheduler.SyncPoint) []SyncEntry {
	out := make([]SyncEntry, len(sync))
	for i, s := range sync {
		out[i] = SyncEntry{Peer: s.PeerPE, ExpectedExecIx: s.ExecIx}
	}
	return out
}

// ParamMessage is what a runner sends back to the coordinator after a
// CONFIG job completes, so the owning FiringHandler can be updated.
type ParamMessage struct {
	ProducerTaskID uint32
	Values         []int64
	ParamIndices   []int
}

// TraceMessage records one job's execution window for the trace/gantt
// export path (spec §6); a runner emits one per completed job only when
// the coordinator was built with tracing enabled.
type TraceMessage struct {
	RunnerID int
	TaskID   uint32
	Start    archi.Instant
	End      archi.Instant
}

// Refinement is the calling convention for a registered kernel: given
// its input parameters, it fills outputParams (empty for a non-CONFIG
// kernel) and reads/writes the buffer views backing its Fifos.
type Refinement func(inputParams []int64, outputParams []int64, inputBuffers [][]byte, outputBuffers [][]byte) error

// Registry is the process-wide table mapping a kernel index to its
// Refinement, populated once at startup and read concurrently by every
// runner thereafter.
type Registry struct {
	mu  sync.RWMutex
	fns map[int]Refinement
}

// NewRegistry creates an empty kernel registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[int]Refinement)}
}

// Register installs fn as the refinement for kernelIndex.
func (r *Registry) Register(kernelIndex int, fn Refinement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[kernelIndex] = fn
}

// Lookup returns the refinement registered for kernelIndex, if any.
func (r *Registry) Lookup(kernelIndex int) (Refinement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[kernelIndex]
	return fn, ok
}

// Memory is an in-process stand-in for the per-cluster memory a real
// deployment's memory-interface would translate a Fifo's virtual
// address against (spec §4.7/§6 leave that physical translation out of
// scope). It backs every Fifo with an actual byte slice, growing on
// demand, so refinements have real memory to read and write.
type Memory struct {
	mu  sync.Mutex
	buf []byte
}

// NewMemory creates an empty memory arena.
func NewMemory() *Memory {
	return &Memory{}
}

// View returns the byte slice f addresses, growing the backing buffer
// first if necessary.
func (m *Memory) View(f fifo.Fifo) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := f.Address + uint64(f.Offset)
	end := start + uint64(f.Size)
	if end > uint64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	return m.buf[start:end]
}
