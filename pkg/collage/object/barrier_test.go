package object_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/eyescale/collage/pkg/collage/collagetest"
	"github.com/eyescale/collage/pkg/collage/object"
)

// Test_Barrier_ReleasesAllParticipantsTogether exercises spec.md section 8
// scenario 1: a barrier of height 3 (one master, two slaves) releases every
// Enter call in the same round only once all three have arrived.
func Test_Barrier_ReleasesAllParticipantsTogether(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	master := collagetest.NewNode(t)
	slaveA := collagetest.NewNode(t)
	slaveB := collagetest.NewNode(t)
	collagetest.Connect(t, slaveA, master)
	collagetest.Connect(t, slaveB, master)

	b := object.NewBarrier(master, 3)

	ctxA, cancelA := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelA()
	bA, err := object.JoinBarrier(ctxA, slaveA, master.NodeID(), b.ID())
	if err != nil {
		t.Fatalf("join barrier A: %v", err)
	}

	ctxB, cancelB := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelB()
	bB, err := object.JoinBarrier(ctxB, slaveB, master.NodeID(), b.ID())
	if err != nil {
		t.Fatalf("join barrier B: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 3)
	enter := func(ctx context.Context, bar *object.Barrier) {
		defer wg.Done()
		results <- bar.Enter(ctx)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wg.Add(3)
	go enter(ctx, b)
	go enter(ctx, bA)
	go enter(ctx, bB)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("barrier did not release all three participants in time")
	}
	close(results)
	for err := range results {
		if err != nil {
			t.Fatalf("Enter returned an error: %v", err)
		}
	}
}
