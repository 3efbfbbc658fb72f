package core

import (
	"context"
	"testing"
	"time"

	"github.com/eyescale/collage/pkg/collage/types"
)

// Test_ConnectionSet_SelectTimeout exercises spec.md section 4.B/5's
// TIMEOUT path with at least one live connection registered: a timeout
// firing must report EventTimeout, not panic indexing past the end of
// the round-robin order slice.
func Test_ConnectionSet_SelectTimeout(t *testing.T) {
	log := newTestLogger()

	listenDesc := types.ConnectionDescription{Type: types.ConnectionTCP, Hostname: "127.0.0.1", Port: 0}
	listener := NewTCPConnection(listenDesc, log)
	if err := listener.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	dialDesc := listener.Description()
	dialer := NewTCPConnection(dialDesc, log)
	if err := dialer.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer dialer.Close()

	set := NewConnectionSet(log)
	set.Add(dialer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := set.Select(ctx, 20*time.Millisecond)
	if ev.Kind != EventTimeout {
		t.Fatalf("expected EventTimeout with nothing pending, got %v (err=%v)", ev.Kind, ev.Err)
	}
}

// Test_ConnectionSet_SelectTimeoutLosesToData confirms a registered
// connection with pending data still wins over a longer timeout, so the
// added timeout case doesn't shadow real connection events.
func Test_ConnectionSet_SelectTimeoutLosesToData(t *testing.T) {
	log := newTestLogger()

	listenDesc := types.ConnectionDescription{Type: types.ConnectionTCP, Hostname: "127.0.0.1", Port: 0}
	listener := NewTCPConnection(listenDesc, log)
	if err := listener.Listen(context.Background()); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	dialDesc := listener.Description()
	dialer := NewTCPConnection(dialDesc, log)
	if err := dialer.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer dialer.Close()

	accepted, err := listener.AcceptSync(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer accepted.Close()

	if ok := accepted.Send([]byte("hi")); !ok {
		t.Fatalf("send should succeed")
	}

	set := NewConnectionSet(log)
	set.Add(dialer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := set.Select(ctx, time.Second)
	if ev.Kind != EventData || ev.Conn != dialer {
		t.Fatalf("expected EventData on dialer, got %v", ev.Kind)
	}
}
