package platform

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spider2/runtime/internal/archi"
	"github.com/spider2/runtime/internal/fifo"
	"github.com/spider2/runtime/internal/scheduler"
)

// twoPEPlatform builds a platform with two PEs in separate clusters, so
// a cross-PE dependency genuinely exercises Sync/JOB_UPDATE_JOBSTAMP
// rather than trivially passing because both jobs land on one runner.
func twoPEPlatform(t *testing.T) *archi.Platform {
	t.Helper()
	p := archi.NewPlatform()
	p.AddCluster("c0")
	p.AddCluster("c1")
	if _, err := p.AddPE("pe0", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AddPE("pe1", 1); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunIterationExecutesDependentJobsAcrossPEs(t *testing.T) {
	plat := twoPEPlatform(t)
	registry := NewRegistry()

	var produced, consumed bool
	registry.Register(0, func(inputParams, outputParams []int64, in, out [][]byte) error {
		produced = true
		out[0][0] = 42
		return nil
	})
	registry.Register(1, func(inputParams, outputParams []int64, in, out [][]byte) error {
		if !produced {
			t.Error("consumer ran before its producer broadcast")
		}
		if in[0][0] != 42 {
			t.Errorf("consumer saw %d, want 42", in[0][0])
		}
		consumed = true
		return nil
	})

	coord := NewCoordinator(plat, registry, archi.RealClock{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	coord.Start(gctx, g)

	tasks := []*scheduler.Task{
		{ID: 0, PE: 0, Executable: true},
		{ID: 1, PE: 1, Executable: true},
	}
	jobs := map[uint32]JobMessage{
		0: {
			TaskID:      0,
			KernelIndex: 0,
			OutputFifos: []fifo.Fifo{{Address: 0, Offset: 0, Size: 1, Count: 1}},
			Broadcast:   true,
		},
		1: {
			TaskID:      1,
			KernelIndex: 1,
			InputFifos:  []fifo.Fifo{{Address: 0, Offset: 0, Size: 1, Count: 1}},
			Sync:        []SyncEntry{{Peer: 0, ExpectedExecIx: 0}},
		},
	}

	done := make(chan error, 1)
	go func() {
		_, err := coord.RunIteration(gctx, tasks, jobs)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunIteration did not complete in time")
	}

	if !consumed {
		t.Fatal("consumer job never ran")
	}

	coord.Stop()
	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		t.Fatal(err)
	}
}

func TestRunIterationCollectsParamMessagesFromConfigJobs(t *testing.T) {
	plat := archi.NewPlatform()
	plat.AddCluster("c0")
	if _, err := plat.AddPE("pe0", 0); err != nil {
		t.Fatal(err)
	}
	registry := NewRegistry()
	registry.Register(0, func(inputParams, outputParams []int64, in, out [][]byte) error {
		outputParams[0] = 7
		return nil
	})

	coord := NewCoordinator(plat, registry, archi.RealClock{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	coord.Start(gctx, g)

	tasks := []*scheduler.Task{{ID: 0, PE: 0, Executable: true}}
	jobs := map[uint32]JobMessage{
		0: {TaskID: 0, KernelIndex: 0, OutputParamIndices: []int{2}},
	}

	params, err := coord.RunIteration(gctx, tasks, jobs)
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 1 || params[0].ProducerTaskID != 0 || params[0].ParamIndices[0] != 2 || params[0].Values[0] != 7 {
		t.Fatalf("unexpected param messages: %+v", params)
	}

	coord.Stop()
	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		t.Fatal(err)
	}
}

func TestIsRunnableHonorsOwnAndPeerPositions(t *testing.T) {
	r := NewRunner(0, 2, NewRegistry(), NewMemory(), nil, nil, archi.RealClock{})
	r.pos = 1

	selfJob := JobMessage{Sync: []SyncEntry{{Peer: 0, ExpectedExecIx: 1}}}
	if !r.isRunnable(selfJob) {
		t.Fatal("job waiting on own position 1 should be runnable once pos reaches 1")
	}
	selfJobFuture := JobMessage{Sync: []SyncEntry{{Peer: 0, ExpectedExecIx: 2}}}
	if r.isRunnable(selfJobFuture) {
		t.Fatal("job waiting on own future position 2 should not be runnable yet")
	}

	peerJob := JobMessage{Sync: []SyncEntry{{Peer: 1, ExpectedExecIx: 0}}}
	if r.isRunnable(peerJob) {
		t.Fatal("job depending on an unbroadcast peer stamp should not be runnable")
	}
	r.stamps[1] = 0
	if !r.isRunnable(peerJob) {
		t.Fatal("job depending on peer stamp 0 should be runnable once that peer broadcasts 0")
	}
}

func TestNotificationKindString(t *testing.T) {
	cases := map[NotificationKind]string{
		LRTStartIteration: "LRT_START_ITERATION",
		LRTEndIteration:   "LRT_END_ITERATION",
		LRTClear:          "LRT_CLEAR",
		LRTStop:           "LRT_STOP",
		JobNew:            "JOB_NEW",
		JobUpdateJobStamp: "JOB_UPDATE_JOBSTAMP",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("NotificationKind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
