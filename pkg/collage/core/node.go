package core

import (
	"sync"

	"github.com/eyescale/collage/pkg/collage/types"
)

// NodeState is a peer Node's connectivity state, distinct from a single
// Connection's State: a Node can be briefly between connections (e.g.
// reconnecting) without ceasing to be a known peer.
type NodeState int

const (
	NodeUnconnected NodeState = iota
	NodeConnecting
	NodeConnected
	NodeDisconnected
)

func (s NodeState) String() string {
	switch s {
	case NodeUnconnected:
		return "UNCONNECTED"
	case NodeConnecting:
		return "CONNECTING"
	case NodeConnected:
		return "CONNECTED"
	case NodeDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Node is a proxy for one peer in the mesh: its identity, how to reach
// it, and (once connected) its single outbound connection slot
// (spec.md section 4.G). LocalNode embeds a Node to represent the local
// process the same way its peers are represented.
type Node struct {
	id    types.NodeID
	kind  types.NodeKind
	descs []types.ConnectionDescription

	mu    sync.RWMutex
	state NodeState
	conn  Connection
}

// NewNode returns a proxy for a not-yet-connected peer.
func NewNode(id types.NodeID, kind types.NodeKind, descs []types.ConnectionDescription) *Node {
	return &Node{id: id, kind: kind, descs: descs, state: NodeUnconnected}
}

func (n *Node) ID() types.NodeID                            { return n.id }
func (n *Node) Kind() types.NodeKind                         { return n.kind }
func (n *Node) Descriptions() []types.ConnectionDescription { return n.descs }

func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) setState(s NodeState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Connection returns the node's current outbound connection, or nil if
// unconnected.
func (n *Node) Connection() Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn
}

func (n *Node) setConnection(c Connection) {
	n.mu.Lock()
	n.conn = c
	if c != nil {
		n.state = NodeConnected
	}
	n.mu.Unlock()
}

// Send returns a builder for one outgoing command targeting this node's
// connection. Go has no destructors, so unlike the original API the
// caller must call Flush (typically via defer) to actually put the frame
// on the wire; field calls (Uint32, String, ...) before Flush only buffer
// locally.
func (n *Node) Send(cmdType types.CommandType, opcode uint32) *SendBuilder {
	return &SendBuilder{
		stream:  NewDataOStream(),
		conn:    n.Connection(),
		cmdType: cmdType,
		opcode:  opcode,
	}
}

// SendOnConnection returns a builder for a command sent directly on
// conn, for fan-out sends where the caller already holds the target
// Connection rather than a peer Node proxy (e.g. an object broadcasting
// a commit to its mapped slaves' connections).
func SendOnConnection(conn Connection, cmdType types.CommandType, opcode uint32) *SendBuilder {
	return &SendBuilder{stream: NewDataOStream(), conn: conn, cmdType: cmdType, opcode: opcode}
}

// SendBuilder accumulates typed fields for one outgoing command and
// flushes them as a single framed send.
type SendBuilder struct {
	stream  *DataOStream
	conn    Connection
	cmdType types.CommandType
	opcode  uint32
	flushed bool
}

func (b *SendBuilder) Compress(enabled bool) *SendBuilder {
	b.stream.EnableCompression(enabled)
	return b
}
func (b *SendBuilder) Uint8(v uint8) *SendBuilder   { b.stream.WriteUint8(v); return b }
func (b *SendBuilder) Uint32(v uint32) *SendBuilder { b.stream.WriteUint32(v); return b }
func (b *SendBuilder) Uint64(v uint64) *SendBuilder { b.stream.WriteUint64(v); return b }
func (b *SendBuilder) Version(v types.Version) *SendBuilder {
	b.stream.WriteVersion(v)
	return b
}
func (b *SendBuilder) ObjectID(id types.ObjectID) *SendBuilder {
	b.stream.WriteObjectID(id)
	return b
}
func (b *SendBuilder) CustomID(id types.CustomCommandID) *SendBuilder {
	b.stream.WriteCustomID(id)
	return b
}
func (b *SendBuilder) Bytes(p []byte) *SendBuilder  { b.stream.WriteBytes(p); return b }
func (b *SendBuilder) String(s string) *SendBuilder { b.stream.WriteString(s); return b }

// Flush sends the accumulated frame. It is idempotent: calling it more
// than once (e.g. once explicitly and once via a deferred call) only
// sends the frame the first time.
func (b *SendBuilder) Flush() error {
	if b.flushed {
		return nil
	}
	b.flushed = true
	if b.conn == nil {
		return types.ErrDisconnected
	}
	return b.stream.Flush(b.conn, b.cmdType, b.opcode)
}
