package types

import "errors"

// Error taxonomy from spec.md section 7. Call sites that need to attach
// call-specific context (which peer, which object, which frame) wrap these
// with github.com/pkg/errors rather than inventing new sentinel values.
var (
	// ErrConnect is a reachability failure during connect/listen.
	ErrConnect = errors.New("collage: connect failed")
	// ErrIO is a mid-frame transport failure; it always closes the
	// connection.
	ErrIO = errors.New("collage: i/o error")
	// ErrProtocol is a malformed frame, unknown command or version
	// mismatch; it closes the offending peer.
	ErrProtocol = errors.New("collage: protocol error")
	// ErrNotRegistered is returned by object-layer calls against an
	// object that was never registered as a master.
	ErrNotRegistered = errors.New("collage: object not registered")
	// ErrNotMapped is returned by object-layer calls against an object
	// that was never mapped as a slave.
	ErrNotMapped = errors.New("collage: object not mapped")
	// ErrVersionUnavailable is returned when a mapping request asks for
	// a version that is no longer retained and not present in the
	// instance cache.
	ErrVersionUnavailable = errors.New("collage: version unavailable")
	// ErrTimeout is returned by a blocking operation that exceeded its
	// deadline.
	ErrTimeout = errors.New("collage: timeout")
	// ErrDisconnected is returned when a master or slave was lost before
	// an operation could complete.
	ErrDisconnected = errors.New("collage: disconnected")
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("collage: closed")
	// ErrWouldBlock is returned by non-blocking accept/recv calls when
	// no data or connection is currently available.
	ErrWouldBlock = errors.New("collage: would block")
)
