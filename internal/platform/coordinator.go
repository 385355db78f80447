package platform

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/scheduler"
)

// coordinatorSender identifies the GRT as a notification's sender: never
// a valid runner index, so a runner that ever saw it on a
// JOB_UPDATE_JOBSTAMP notification would know to reject it.
const coordinatorSender = -1

// Coordinator is the GRT: it owns one Runner per PE and drives the
// per-iteration protocol of spec §4.8 against them.
type Coordinator struct {
	runners  []*Runner
	paramCh  chan ParamMessage
	traceCh  chan TraceMessage
	registry *Registry
	memory   *Memory
}

// NewCoordinator creates a coordinator with one runner per PE in plat,
// sharing registry for refinement lookup and a single Memory arena
// across every runner's buffer views. traceEnabled turns on the
// TraceMessage channel the export path reads from via Traces.
func NewCoordinator(plat *archi.Platform, registry *Registry, clock archi.Clock, traceEnabled bool) *Coordinator {
	n := len(plat.PEs)
	paramCh := make(chan ParamMessage, 4096)
	var traceCh chan TraceMessage
	if traceEnabled {
		traceCh = make(chan TraceMessage, 4096)
	}
	mem := NewMemory()

	runners := make([]*Runner, n)
	for i := 0; i < n; i++ {
		runners[i] = NewRunner(i, n, registry, mem, paramCh, traceCh, clock)
	}
	for _, r := range runners {
		r.peers = runners
	}

	return &Coordinator{runners: runners, paramCh: paramCh, traceCh: traceCh, registry: registry, memory: mem}
}

// Memory returns the coordinator's shared buffer arena, so internal/engine
// can seed external buffers before the first iteration.
func (c *Coordinator) Memory() *Memory { return c.memory }

// Start launches every runner's loop under g.
func (c *Coordinator) Start(ctx context.Context, g *errgroup.Group) {
	for _, r := range c.runners {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}
}

// Stop pushes LRT_STOP to every runner, causing Start's goroutines to
// return.
func (c *Coordinator) Stop() {
	for _, r := range c.runners {
		r.Notify(Notification{Kind: LRTStop, Sender: coordinatorSender})
	}
}

// RunIteration drives one full coordinator loop (spec §4.8): start,
// dispatch every given task's job to its mapped PE's runner in order,
// end, barrier on every runner's acknowledgment, then drain and return
// the ParamMessages collected along the way, and finally clear every
// runner for the next iteration.
func (c *Coordinator) RunIteration(ctx context.Context, tasks []*scheduler.Task, jobs map[uint32]JobMessage) ([]ParamMessage, error) {
	for _, r := range c.runners {
		r.Notify(Notification{Kind: LRTStartIteration, Sender: coordinatorSender})
	}

	for _, t := range tasks {
		if !t.Executable {
			continue
		}
		job, ok := jobs[t.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no job message built for task %d", ErrProtocol, t.ID)
		}
		if t.PE < 0 || t.PE >= len(c.runners) {
			return nil, fmt.Errorf("%w: task %d is mapped to unknown PE %d", ErrProtocol, t.ID, t.PE)
		}
		r := c.runners[t.PE]
		idx := r.StoreJob(job)
		r.Notify(Notification{Kind: JobNew, Sender: coordinatorSender, Payload: idx})
	}

	for _, r := range c.runners {
		r.Notify(Notification{Kind: LRTEndIteration, Sender: coordinatorSender})
	}

	for _, r := range c.runners {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.ack:
		}
	}

	var params []ParamMessage
drain:
	for {
		select {
		case p := <-c.paramCh:
			params = append(params, p)
		default:
			break drain
		}
	}

	for _, r := range c.runners {
		r.Notify(Notification{Kind: LRTClear, Sender: coordinatorSender})
	}

	return params, nil
}

// Traces drains every TraceMessage collected since the last call to
// Traces; it returns nil if tracing was not enabled.
func (c *Coordinator) Traces() []TraceMessage {
	if c.traceCh == nil {
		return nil
	}
	var out []TraceMessage
	for {
		select {
		case t := <-c.traceCh:
			out = append(out, t)
		default:
			return out
		}
	}
}
