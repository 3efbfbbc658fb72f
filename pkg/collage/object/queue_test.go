package object_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/eyescale/collage/pkg/collage/collagetest"
	"github.com/eyescale/collage/pkg/collage/object"
	"github.com/eyescale/collage/pkg/collage/types"
)

// Test_Queue_FanOutThenClosedReportsErrClosed exercises spec.md section 8
// scenario 5: a master pushes four items, a single slave pops all four in
// order, and a fifth pop against a now-closed queue reports types.ErrClosed.
func Test_Queue_FanOutThenClosedReportsErrClosed(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	master := collagetest.NewNode(t)
	slave := collagetest.NewNode(t)
	collagetest.Connect(t, slave, master)

	qm := object.NewQueueMaster(master)
	qs := object.JoinQueue(slave, master.NodeID(), qm.ID())

	wants := []string{"one", "two", "three", "four"}
	for i, w := range wants {
		if err := qm.Push().Uint32(uint32(i)).String(w).Close(); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	qm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, want := range wants {
		stream, err := qs.Pop(ctx)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		idx := stream.ReadUint32()
		got := stream.ReadString()
		if idx != uint32(i) || got != want {
			t.Fatalf("pop %d: expected (%d,%q), got (%d,%q)", i, i, want, idx, got)
		}
	}

	if _, err := qs.Pop(ctx); err != types.ErrClosed {
		t.Fatalf("expected the fifth pop to report %v, got %v", types.ErrClosed, err)
	}
}
