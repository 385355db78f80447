package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/firing"
)

// spinYield bounds how long Run blocks waiting for a notification before
// re-checking whether the head-of-queue job has become runnable; it
// keeps a runner that's spinning on a peer's job stamp responsive to
// that peer's JOB_UPDATE_JOBSTAMP notification without a busy loop.
const spinYield = 200 * time.Microsecond

// unscheduled is localJobStampsArray's initial sentinel: "this peer
// hasn't broadcast a position yet", never satisfying a >= comparison
// against a real expected index. It is the same sentinel value firing
// uses for "no task registered yet".
const unscheduled = firing.Unscheduled

// Runner is one worker loop bound to a single processing element (spec
// §4.8): it owns a notification queue, an indexed JobMessage store, the
// array of every other runner's last-known job-queue position
// (localJobStampsArray), and its own job queue and position within it.
type Runner struct {
	ID int

	registry *Registry
	memory   *Memory
	paramOut chan<- ParamMessage
	traceOut chan<- TraceMessage
	clock    archi.Clock

	notifications chan Notification
	ack           chan struct{}

	peers []*Runner // set once by Coordinator after every Runner is constructed

	jobStore     map[uint32]JobMessage
	nextJobIndex uint32
	jobQueue     []uint32
	pos          int
	stamps       []uint32 // localJobStampsArray
}

// NewRunner creates a runner for PE id among numRunners total runners.
// clock may be nil, in which case archi.RealClock is used.
func NewRunner(id, numRunners int, registry *Registry, memory *Memory, paramOut chan<- ParamMessage, traceOut chan<- TraceMessage, clock archi.Clock) *Runner {
	if clock == nil {
		clock = archi.RealClock{}
	}
	r := &Runner{
		ID:            id,
		registry:      registry,
		memory:        memory,
		paramOut:      paramOut,
		traceOut:      traceOut,
		clock:         clock,
		notifications: make(chan Notification, 256),
		ack:           make(chan struct{}, 1),
		jobStore:      make(map[uint32]JobMessage),
		stamps:        make([]uint32, numRunners),
	}
	r.resetStamps()
	return r
}

func (r *Runner) resetStamps() {
	for i := range r.stamps {
		r.stamps[i] = unscheduled
	}
}

// Notify enqueues a notification for this runner. Callers must serialize
// their own sends to preserve per-(sender,receiver) ordering; the
// coordinator does this by construction, issuing one notification at a
// time from a single goroutine.
func (r *Runner) Notify(n Notification) { r.notifications <- n }

// StoreJob installs msg in the indexed job store and returns the index a
// matching JOB_NEW notification must carry.
func (r *Runner) StoreJob(msg JobMessage) uint32 {
	idx := r.nextJobIndex
	r.nextJobIndex++
	r.jobStore[idx] = msg
	return idx
}

// Run executes the runner's loop until it observes LRT_STOP or ctx is
// cancelled. Between notifications it repeatedly tries to advance its
// job queue, since a job only a moment ago blocked on a peer's job stamp
// may have just become runnable without any notification announcing it
// (the peer itself may be similarly blocked).
func (r *Runner) Run(ctx context.Context) error {
	for {
		advanced, err := r.tryAdvance()
		if err != nil {
			return err
		}
		if advanced {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-r.notifications:
			stop, err := r.handle(ctx, n)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		case <-time.After(spinYield):
		}
	}
}

func (r *Runner) handle(ctx context.Context, n Notification) (stop bool, err error) {
	switch n.Kind {
	case LRTStartIteration:
		r.jobQueue = r.jobQueue[:0]
		r.pos = 0
		r.nextJobIndex = 0
		r.jobStore = make(map[uint32]JobMessage)
		r.resetStamps()

	case JobNew:
		r.jobQueue = append(r.jobQueue, n.Payload)

	case JobUpdateJobStamp:
		if n.Sender < 0 || n.Sender >= len(r.stamps) {
			return false, fmt.Errorf("%w: runner %d received a job-stamp update from unknown peer %d", ErrProtocol, r.ID, n.Sender)
		}
		if r.stamps[n.Sender] == unscheduled || n.Payload > r.stamps[n.Sender] {
			r.stamps[n.Sender] = n.Payload
		}

	case LRTEndIteration:
		stopped, err := r.drain(ctx)
		if err != nil {
			return false, err
		}
		if stopped {
			return true, nil
		}
		r.ack <- struct{}{}

	case LRTClear:
		r.pos = 0
		r.resetStamps()

	case LRTStop:
		return true, nil

	default:
		return false, fmt.Errorf("%w: runner %d received unknown notification kind %v", ErrProtocol, r.ID, n.Kind)
	}
	return false, nil
}

// drain runs every remaining job in the queue, servicing incoming
// notifications (chiefly peers' JOB_UPDATE_JOBSTAMP broadcasts) between
// attempts, until the queue is exhausted or LRT_STOP arrives.
func (r *Runner) drain(ctx context.Context) (stopped bool, err error) {
	for r.pos < len(r.jobQueue) {
		advanced, err := r.tryAdvance()
		if err != nil {
			return false, err
		}
		if advanced {
			continue
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case n := <-r.notifications:
			stop, err := r.handle(ctx, n)
			if err != nil {
				return false, err
			}
			if stop {
				return true, nil
			}
		case <-time.After(spinYield):
		}
	}
	return false, nil
}

// tryAdvance runs the job at the head of the queue if it is runnable,
// advancing pos on success.
func (r *Runner) tryAdvance() (bool, error) {
	if r.pos >= len(r.jobQueue) {
		return false, nil
	}
	idx := r.jobQueue[r.pos]
	job, ok := r.jobStore[idx]
	if !ok {
		return false, fmt.Errorf("%w: runner %d has no stored job for index %d", ErrProtocol, r.ID, idx)
	}
	if !r.isRunnable(job) {
		return false, nil
	}
	if err := r.runJob(job, uint32(r.pos)); err != nil {
		return false, err
	}
	r.pos++
	return true, nil
}

// isRunnable implements spec §4.8's runnability check: for a dependency
// on this same PE, the runner's own current position must have reached
// it; for a dependency on a peer PE, that peer's last-broadcast position
// (localJobStampsArray[peer]) must have reached it.
func (r *Runner) isRunnable(job JobMessage) bool {
	for _, s := range job.Sync {
		if s.Peer == r.ID {
			if uint32(r.pos) < s.ExpectedExecIx {
				return false
			}
			continue
		}
		if r.stamps[s.Peer] == unscheduled || r.stamps[s.Peer] < s.ExpectedExecIx {
			return false
		}
	}
	return true
}

// runJob looks up job's kernel, builds its buffer views from memory,
// invokes the refinement, and — for a CONFIG job — packages its output
// parameters into a ParamMessage. execIx is this job's position in the
// queue, used as the broadcast payload.
func (r *Runner) runJob(job JobMessage, execIx uint32) error {
	fn, ok := r.registry.Lookup(job.KernelIndex)
	if !ok {
		return fmt.Errorf("%w: runner %d has no refinement registered for kernel %d", ErrProtocol, r.ID, job.KernelIndex)
	}

	inputBuffers := make([][]byte, len(job.InputFifos))
	for i, f := range job.InputFifos {
		inputBuffers[i] = r.memory.View(f)
	}
	outputBuffers := make([][]byte, len(job.OutputFifos))
	for i, f := range job.OutputFifos {
		outputBuffers[i] = r.memory.View(f)
	}
	outputParams := make([]int64, len(job.OutputParamIndices))

	start := r.clock.Now()
	if err := fn(job.InputParams, outputParams, inputBuffers, outputBuffers); err != nil {
		return fmt.Errorf("platform: runner %d job %d (kernel %d): %w", r.ID, job.TaskID, job.KernelIndex, err)
	}
	end := r.clock.Now()

	if r.traceOut != nil {
		r.traceOut <- TraceMessage{RunnerID: r.ID, TaskID: job.TaskID, Start: start, End: end}
	}

	if len(job.OutputParamIndices) > 0 {
		r.paramOut <- ParamMessage{
			ProducerTaskID: job.TaskID,
			Values:         outputParams,
			ParamIndices:   append([]int(nil), job.OutputParamIndices...),
		}
	}

	if job.Broadcast {
		for _, p := range r.peers {
			if p.ID == r.ID {
				continue
			}
			p.Notify(Notification{Kind: JobUpdateJobStamp, Sender: r.ID, Payload: execIx})
		}
	}
	return nil
}
