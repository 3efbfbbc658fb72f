package core

import (
	"bytes"
	"context"

	"github.com/eyescale/collage/pkg/collage/types"
)

// BufferConnection is a Connection implementation that accumulates writes
// into an in-memory buffer instead of touching a real transport (ported
// from the original Collage co/bufferConnection.h). It lets a composite
// writer build up a multi-part frame without holding the real
// connection's send-lock while serializing; FlushTo replays the
// accumulated bytes as a single framed send on the real connection.
type BufferConnection struct {
	sendLock
	buf bytes.Buffer
}

// NewBufferConnection returns an empty buffering connection.
func NewBufferConnection() *BufferConnection {
	return &BufferConnection{}
}

// Send appends to the in-memory buffer. It never fails.
func (b *BufferConnection) Send(data []byte) bool {
	b.buf.Write(data)
	return true
}

// Bytes returns the accumulated data.
func (b *BufferConnection) Bytes() []byte { return b.buf.Bytes() }

// Size returns the number of accumulated bytes.
func (b *BufferConnection) Size() int64 { return int64(b.buf.Len()) }

// Reset discards accumulated data for reuse.
func (b *BufferConnection) Reset() { b.buf.Reset() }

// FlushTo sends the accumulated bytes to real as a single locked write,
// then resets the internal buffer.
func (b *BufferConnection) FlushTo(real Connection) bool {
	real.LockSend()
	defer real.UnlockSend()
	ok := real.Send(b.buf.Bytes())
	b.buf.Reset()
	return ok
}

// The remaining Connection methods are not supported by a buffering
// connection, mirroring the original's LBDONTCALL guards.
func (b *BufferConnection) Listen(context.Context) error { return types.ErrProtocol }
func (b *BufferConnection) AcceptNonBlocking() (Connection, error) {
	return nil, types.ErrProtocol
}
func (b *BufferConnection) AcceptSync(context.Context) (Connection, error) {
	return nil, types.ErrProtocol
}
func (b *BufferConnection) Connect(context.Context) error { return types.ErrProtocol }
func (b *BufferConnection) Close() error                  { return nil }
func (b *BufferConnection) RecvNonBlocking(int) ([]byte, error) {
	return nil, types.ErrProtocol
}
func (b *BufferConnection) RecvSync(context.Context) ([]byte, error) {
	return nil, types.ErrProtocol
}
func (b *BufferConnection) Notifier() <-chan struct{}              { return nil }
func (b *BufferConnection) State() State                          { return StateConnected }
func (b *BufferConnection) Description() types.ConnectionDescription {
	return types.ConnectionDescription{Type: "buffer"}
}

var _ Connection = (*BufferConnection)(nil)
