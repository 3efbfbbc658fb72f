package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/eyescale/collage/pkg/collage/types"
)

// recvQueueDepth bounds how many unconsumed reads a TCPConnection's pump
// goroutine may buffer before it blocks upstream TCP flow control.
const recvQueueDepth = 256

// TCPConnection is Collage's one concrete Connection transport driver,
// wrapping a net.Conn/net.Listener pair. A background "pump" goroutine
// performs the actual blocking reads so that RecvNonBlocking/RecvSync and
// the Notifier channel can be served without every caller blocking on the
// kernel socket directly — the same shape as a typical Go peer-connection
// read loop (see e.g. the teacher pack's TCP peer wrappers).
type TCPConnection struct {
	sendLock

	desc     types.ConnectionDescription
	log      types.Logger
	conn     net.Conn
	listener net.Listener

	mu    sync.Mutex
	state State

	notify   chan struct{}
	recvCh   chan []byte
	acceptCh chan Connection
	closed   chan struct{}
	closeOne sync.Once
	recvErr  atomic.Value // error

	limiter *rate.Limiter

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration
}

// NewTCPConnection builds an unconnected TCPConnection from a
// description. Call Listen to bind it as a listener or Connect to dial
// out; the two are mutually exclusive.
func NewTCPConnection(desc types.ConnectionDescription, log types.Logger) *TCPConnection {
	c := &TCPConnection{
		desc:   desc,
		log:    log,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	if desc.Bandwidth > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(desc.Bandwidth), int(desc.Bandwidth))
	}
	return c
}

func wrapAccepted(conn net.Conn, desc types.ConnectionDescription, log types.Logger, keepAliveInterval, keepAliveTimeout time.Duration) *TCPConnection {
	c := NewTCPConnection(desc, log)
	c.conn = conn
	c.recvCh = make(chan []byte, recvQueueDepth)
	c.state = StateConnected
	c.SetKeepAlive(keepAliveInterval, keepAliveTimeout)
	c.applyKeepAlive()
	go c.pumpRead()
	return c
}

// SetKeepAlive configures the OS-level TCP keepalive interval and the
// read-idle timeout applied while pumping data (spec.md section 6's
// keep-alive timeout/interval settings). Either may be zero to leave
// that behavior disabled. Call before Listen/Connect.
func (c *TCPConnection) SetKeepAlive(interval, timeout time.Duration) {
	c.keepAliveInterval = interval
	c.keepAliveTimeout = timeout
}

// applyKeepAlive turns on the kernel's TCP keepalive probing at the
// configured interval once c.conn is a live *net.TCPConn. The read-idle
// timeout is enforced separately, per-Read, in pumpRead.
func (c *TCPConnection) applyKeepAlive() {
	if c.keepAliveInterval <= 0 {
		return
	}
	if tc, ok := c.conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(c.keepAliveInterval)
	}
}

func (c *TCPConnection) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *TCPConnection) Description() types.ConnectionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

func (c *TCPConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *TCPConnection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *TCPConnection) Notifier() <-chan struct{} { return c.notify }

// Listen binds the address described by desc and starts an accept pump.
func (c *TCPConnection) Listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.desc.Hostname, c.desc.Port)
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(types.ErrConnect, "listen %s: %v", addr, err)
	}
	c.listener = ln
	c.acceptCh = make(chan Connection, 16)
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		c.mu.Lock()
		c.desc.Port = uint16(tcpAddr.Port)
		c.mu.Unlock()
	}
	c.setState(StateListening)
	go c.pumpAccept()
	return nil
}

func (c *TCPConnection) pumpAccept() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			c.fail(err)
			return
		}
		peerDesc := c.desc
		if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			peerDesc.Hostname = tcpAddr.IP.String()
			peerDesc.Port = uint16(tcpAddr.Port)
		}
		accepted := wrapAccepted(conn, peerDesc, c.log, c.keepAliveInterval, c.keepAliveTimeout)
		select {
		case c.acceptCh <- accepted:
			c.signal()
		case <-c.closed:
			accepted.Close()
			return
		}
	}
}

// PendingKind reports, without consuming it, what ConnectionSet.Select
// should report after this connection's notifier fires.
func (c *TCPConnection) PendingKind() EventKind {
	if c.State() == StateListening {
		if len(c.acceptCh) > 0 {
			return EventAccept
		}
	}
	if len(c.recvCh) > 0 {
		return EventData
	}
	select {
	case <-c.closed:
		return EventDisconnect
	default:
	}
	return EventTimeout
}

// AcceptNonBlocking returns the next pending peer connection or
// types.ErrWouldBlock.
func (c *TCPConnection) AcceptNonBlocking() (Connection, error) {
	select {
	case conn := <-c.acceptCh:
		return conn, nil
	default:
		return nil, types.ErrWouldBlock
	}
}

// AcceptSync blocks for the next peer connection.
func (c *TCPConnection) AcceptSync(ctx context.Context) (Connection, error) {
	select {
	case conn := <-c.acceptCh:
		return conn, nil
	case <-c.closed:
		return nil, errors.Wrap(types.ErrClosed, "accept")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect dials the configured remote endpoint.
func (c *TCPConnection) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.desc.Hostname, c.desc.Port)
	c.setState(StateConnecting)
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.setState(StateClosed)
		return errors.Wrapf(types.ErrConnect, "dial %s: %v", addr, err)
	}
	c.conn = conn
	c.recvCh = make(chan []byte, recvQueueDepth)
	c.setState(StateConnected)
	c.applyKeepAlive()
	go c.pumpRead()
	return nil
}

func (c *TCPConnection) pumpRead() {
	buf := make([]byte, 64*1024)
	for {
		if c.keepAliveTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.keepAliveTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.recvCh <- chunk:
				c.signal()
			case <-c.closed:
				return
			}
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *TCPConnection) fail(err error) {
	c.recvErr.Store(err)
	c.setState(StateClosing)
	c.signal()
	_ = c.Close()
}

// Send blocks, retrying partial writes internally, applying the
// connection's bandwidth limiter if one is configured. It returns false
// only on a hard, unrecoverable I/O error.
func (c *TCPConnection) Send(buf []byte) bool {
	if c.limiter != nil {
		if err := c.limiter.WaitN(context.Background(), clampBurst(len(buf), c.limiter)); err != nil {
			return false
		}
	}
	for len(buf) > 0 {
		n, err := c.conn.Write(buf)
		if err != nil {
			c.fail(err)
			return false
		}
		buf = buf[n:]
	}
	return true
}

func clampBurst(n int, limiter *rate.Limiter) int {
	if b := limiter.Burst(); n > b {
		return b
	}
	return n
}

// RecvNonBlocking returns the next queued chunk of up to n bytes, or
// types.ErrWouldBlock if nothing is queued.
func (c *TCPConnection) RecvNonBlocking(n int) ([]byte, error) {
	select {
	case chunk := <-c.recvCh:
		return trimTo(chunk, n), nil
	default:
		if err, ok := c.recvErr.Load().(error); ok && err != nil {
			return nil, errors.Wrap(types.ErrIO, err.Error())
		}
		return nil, types.ErrWouldBlock
	}
}

// RecvSync blocks until a chunk is available, the connection closes, or
// ctx is done.
func (c *TCPConnection) RecvSync(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-c.recvCh:
		return chunk, nil
	case <-c.closed:
		if err, ok := c.recvErr.Load().(error); ok && err != nil {
			return nil, errors.Wrap(types.ErrIO, err.Error())
		}
		return nil, errors.Wrap(types.ErrDisconnected, "recv")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func trimTo(b []byte, n int) []byte {
	if n > 0 && n < len(b) {
		return b[:n]
	}
	return b
}

// Close transitions the connection to StateClosed, closing the
// underlying socket and waking any blocked Accept/Recv callers.
func (c *TCPConnection) Close() error {
	var err error
	c.closeOne.Do(func() {
		close(c.closed)
		c.setState(StateClosed)
		if c.conn != nil {
			err = c.conn.Close()
		}
		if c.listener != nil {
			err = c.listener.Close()
		}
		c.signal()
	})
	return err
}

var _ Connection = (*TCPConnection)(nil)
