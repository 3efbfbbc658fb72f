package core

import (
	"context"
	"sync"

	"github.com/eyescale/collage/pkg/collage/types"
)

// State is a Connection's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateConnected
	StateListening
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateListening:
		return "LISTENING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Connection is the abstract bidirectional byte stream every transport
// driver implements (spec.md section 4.A). Collage only ships the TCP
// driver (TCPConnection); named pipes, RDMA and so on are external
// collaborators behind this same interface, per spec.md section 1.
//
// Sends on a connection are serialized by its own send-lock: a caller
// composing one logical frame out of several Send calls must bracket them
// with LockSend/UnlockSend so readers observe the concatenation without
// interleaving from another frame on the same connection. Receives are
// performed by a single owning thread (the connection's receiver loop).
type Connection interface {
	// Listen binds the connection's configured address and puts it in
	// StateListening.
	Listen(ctx context.Context) error

	// AcceptNonBlocking returns the next already-pending peer connection,
	// or types.ErrWouldBlock if none is pending.
	AcceptNonBlocking() (Connection, error)

	// AcceptSync blocks until a peer connects, ctx is done, or the
	// listener is closed.
	AcceptSync(ctx context.Context) (Connection, error)

	// Connect dials the configured remote endpoint.
	Connect(ctx context.Context) error

	// Close moves the connection to StateClosed (a transport failure
	// passes through StateClosing first), failing any queued senders and waking AcceptSync/
	// RecvSync and the owning ConnectionSet with a disconnect event.
	Close() error

	// LockSend/UnlockSend bracket the one or more Send calls that make up
	// a single logical frame.
	LockSend()
	UnlockSend()

	// Send writes n bytes, blocking and retrying partial writes
	// internally until the full count is delivered or the connection
	// fails. It returns false only on a hard, unrecoverable error.
	Send(buf []byte) bool

	// RecvNonBlocking reads up to n bytes without blocking, returning
	// types.ErrWouldBlock if nothing is currently available.
	RecvNonBlocking(n int) ([]byte, error)

	// RecvSync blocks until at least one byte is available, ctx is done,
	// or the connection closes.
	RecvSync(ctx context.Context) ([]byte, error)

	// Notifier returns a channel that becomes readable whenever the
	// connection has an event pending (data, incoming accept,
	// disconnect); ConnectionSet.Select consumes it.
	Notifier() <-chan struct{}

	State() State

	// Description reports the configuration this connection was built
	// from.
	Description() types.ConnectionDescription
}

// sendLock is embedded by every Connection implementation to provide the
// send-lock contract without repeating the bookkeeping.
type sendLock struct {
	mu sync.Mutex
}

func (s *sendLock) LockSend()   { s.mu.Lock() }
func (s *sendLock) UnlockSend() { s.mu.Unlock() }
