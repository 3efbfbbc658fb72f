package object_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/eyescale/collage/pkg/collage/collagetest"
	"github.com/eyescale/collage/pkg/collage/core"
	"github.com/eyescale/collage/pkg/collage/types"
)

const customGreetingOpcode uint32 = 1

// Test_CustomCommand_RoundTrip exercises spec.md section 8 scenario 4: an
// application registers a handler for its own opcode under TypeCustom, and
// a peer's CustomID-prefixed payload reaches it intact.
func Test_CustomCommand_RoundTrip(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	receiver := collagetest.NewNode(t)
	sender := collagetest.NewNode(t)
	collagetest.Connect(t, sender, receiver)

	familyID := types.NewCustomCommandID()
	received := make(chan string, 1)
	receiver.Dispatcher().Register(types.TypeCustom, customGreetingOpcode, func(cmd *core.Command) error {
		defer cmd.Release()
		gotID, stream, err := cmd.CustomStream()
		if err != nil {
			return err
		}
		if gotID != familyID {
			t.Errorf("expected custom command family %s, got %s", familyID, gotID)
		}
		received <- stream.ReadString()
		return stream.Err()
	})

	builder, err := sender.SendToPeer(receiver.NodeID(), types.TypeCustom, customGreetingOpcode)
	if err != nil {
		t.Fatalf("send to peer: %v", err)
	}
	builder.CustomID(familyID).String("hello")
	if err := builder.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("expected payload %q, got %q", "hello", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("handler did not receive the custom command in time")
	}
}
