package core

import (
	"context"
	"testing"
	"time"
)

func Test_CommandQueue_PushPopOrder(t *testing.T) {
	q := NewCommandQueue(4)
	ctx := context.Background()

	cmds := make([]*Command, 3)
	for i := range cmds {
		cmds[i] = NewCommand(0, uint32(i), [16]byte{}, nil, nil)
		if err := q.Push(ctx, cmds[i]); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	for i := range cmds {
		got, ok := q.Pop(ctx)
		if !ok {
			t.Fatalf("pop %d: queue reported closed", i)
		}
		if got.Opcode != uint32(i) {
			t.Fatalf("expected FIFO order, got opcode %d at position %d", got.Opcode, i)
		}
	}
}

func Test_CommandQueue_PopBlocksUntilTimeout(t *testing.T) {
	q := NewCommandQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := q.Pop(ctx)
	if ok {
		t.Fatalf("expected Pop to report not-ok once ctx is done")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("Pop returned before the context deadline")
	}
}

func Test_CommandQueue_CloseUnblocksPop(t *testing.T) {
	q := NewCommandQueue(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()
	time.Sleep(5 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected Pop to report not-ok after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop did not unblock after Close")
	}
}
