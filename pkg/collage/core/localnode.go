package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/definition"
	"github.com/eyescale/collage/pkg/collage/types"
)

// ProtocolVersion is the feature-negotiation version exchanged during
// handshake (spec.md section 4.G); bump it whenever a wire-incompatible
// change is made to the node or object command layers.
var ProtocolVersion = version.Must(version.NewVersion("1.0.0"))

// DistributedObject is the minimal surface LocalNode needs from an
// object package's Object implementation. It is declared here instead of
// importing the object package, so that core never depends on object —
// object depends on core instead, breaking the cyclic ownership spec.md's
// Design Notes call out (Object <-> LocalNode).
type DistributedObject interface {
	ID() types.ObjectID
	SetID(types.ObjectID)
	Role() types.Role
	SetRole(types.Role)
	ChangeType() types.ChangeType
	Version() types.Version

	// WriteInstanceData serializes the object's complete current state,
	// used for initial mapping replies.
	WriteInstanceData(out *DataOStream)

	// ApplyInstanceData deserializes a complete instance payload
	// (initial mapping, or an INSTANCE/UNBUFFERED commit), adopting version.
	ApplyInstanceData(in *DataIStream, version types.Version) error

	// ApplyDelta deserializes a DELTA commit's dirty-bits-prefixed
	// payload, advancing to version.
	ApplyDelta(in *DataIStream, version types.Version) error

	// SetDisconnected is called when the object's master becomes
	// unreachable.
	SetDisconnected()
}

// ObjectHost is the narrow surface an object package's Object uses to
// reach its owning LocalNode, mirroring DistributedObject in the other
// direction so neither package imports the other's concrete type.
type ObjectHost interface {
	NodeID() types.NodeID
	Logger() types.Logger
	InstanceCache() *InstanceCache
	BufferCache() *BufferCache
	// MappedSlaveConnections returns the current outbound connections of
	// every slave mapped to identifier, for delta/instance fan-out on
	// commit.
	MappedSlaveConnections(identifier types.ObjectID) []Connection
}

type objectRegistration struct {
	obj    DistributedObject
	master types.NodeID

	mu     sync.Mutex
	slaves map[types.NodeID]struct{}
}

type pendingMap struct {
	ch  chan *mapResult
	obj DistributedObject
}

type mapResult struct {
	ok      bool
	version types.Version
	master  types.NodeID
	stream  *DataIStream
}

// LocalNode is the local process's identity plus the full set of
// collaborators it owns: listeners, the peer connection set, the peer
// table, the object registry, and the receiver/command-processing
// goroutines (spec.md section 4.G).
type LocalNode struct {
	*Node

	log           types.Logger
	invoker       Invoker
	dispatcher    *Dispatcher
	bufferCache   *BufferCache
	instanceCache *InstanceCache

	ctx    context.Context
	cancel context.CancelFunc

	listenMu  sync.Mutex
	listeners []Connection
	connSet   *ConnectionSet

	peerMu   sync.RWMutex
	peers    map[types.NodeID]*Node
	connPeer map[Connection]types.NodeID

	objMu   sync.RWMutex
	objects map[types.ObjectID]*objectRegistration

	nodeQueue   *CommandQueue
	objectQueue *CommandQueue

	reqMu   sync.Mutex
	nextReq uint64
	pending map[uint64]*pendingMap

	readerMu sync.Mutex
	readers  map[Connection]*connReader

	settings types.Settings

	closeOnce sync.Once
}

// LocalNodeOptions configures a LocalNode. Settings is the process-wide
// configuration surface (spec.md section 6): the object-buffer cap
// backing InstanceCache's eviction budget, and the keep-alive timers
// applied to every TCPConnection this node creates through Listen/Connect.
// The zero value of LocalNodeOptions uses types.DefaultSettings().
type LocalNodeOptions struct {
	Settings types.Settings
}

// NewLocalNode creates the local identity and starts its receiver and
// command-processing goroutines. Listen or Connect must be called before
// the node can reach any peer.
func NewLocalNode(log types.Logger, opts LocalNodeOptions) *LocalNode {
	if log == nil {
		log = definition.NewDefaultLogger("collage")
	}
	settings := opts.Settings
	if settings.Bytes == 0 {
		settings = types.DefaultSettings()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &LocalNode{
		Node:          NewNode(types.NewNodeID(), types.NodeKindPlain, nil),
		log:           log,
		invoker:       NewInvoker(),
		bufferCache:   NewBufferCache(),
		instanceCache: NewInstanceCache(settings.Bytes, log),
		ctx:           ctx,
		cancel:        cancel,
		connSet:       NewConnectionSet(log),
		peers:         make(map[types.NodeID]*Node),
		connPeer:      make(map[Connection]types.NodeID),
		objects:       make(map[types.ObjectID]*objectRegistration),
		nodeQueue:     NewCommandQueue(256),
		objectQueue:   NewCommandQueue(256),
		pending:       make(map[uint64]*pendingMap),
		readers:       make(map[Connection]*connReader),
		settings:      settings,
	}
	n.dispatcher = NewDispatcher(log)
	n.registerNodeHandlers()
	n.invoker.Spawn(func() { n.commandThread(n.nodeQueue) })
	n.invoker.Spawn(func() { n.commandThread(n.objectQueue) })
	n.invoker.Spawn(n.receiverLoop)
	return n
}

func (n *LocalNode) NodeID() types.NodeID          { return n.ID() }
func (n *LocalNode) Logger() types.Logger          { return n.log }
func (n *LocalNode) InstanceCache() *InstanceCache { return n.instanceCache }
func (n *LocalNode) BufferCache() *BufferCache     { return n.bufferCache }
func (n *LocalNode) Dispatcher() *Dispatcher       { return n.dispatcher }
func (n *LocalNode) Context() context.Context      { return n.ctx }
func (n *LocalNode) Settings() types.Settings      { return n.settings }

func (n *LocalNode) MappedSlaveConnections(identifier types.ObjectID) []Connection {
	n.objMu.RLock()
	reg, ok := n.objects[identifier]
	n.objMu.RUnlock()
	if !ok {
		return nil
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	conns := make([]Connection, 0, len(reg.slaves))
	for peerID := range reg.slaves {
		if p, ok := n.peer(peerID); ok {
			if c := p.Connection(); c != nil {
				conns = append(conns, c)
			}
		}
	}
	return conns
}

// SendToPeer returns a builder for a command addressed to peer's current
// connection, for specializations (Barrier, QueueMaster/QueueSlave) that
// exchange node-layer control commands outside the object registry's
// commit/delta path.
func (n *LocalNode) SendToPeer(peer types.NodeID, cmdType types.CommandType, opcode uint32) (*SendBuilder, error) {
	p, ok := n.peer(peer)
	if !ok {
		return nil, types.ErrNotRegistered
	}
	conn := p.Connection()
	if conn == nil {
		return nil, types.ErrDisconnected
	}
	return &SendBuilder{stream: NewDataOStream(), conn: conn, cmdType: cmdType, opcode: opcode}, nil
}

func (n *LocalNode) registerNodeHandlers() {
	n.dispatcher.Register(types.TypeNode, types.CmdMapRequest, n.handleMapRequest)
	n.dispatcher.Register(types.TypeNode, types.CmdMapReply, n.handleMapReply)
	n.dispatcher.Register(types.TypeObject, types.CmdObjectCommit, n.handleObjectCommand)
	n.dispatcher.Register(types.TypeObject, types.CmdObjectDelta, n.handleObjectCommand)
}

// Listen binds every configured connection description, adding each
// listener to the connection set the receiver goroutine watches.
func (n *LocalNode) Listen(descs []types.ConnectionDescription) error {
	for _, desc := range descs {
		conn := NewTCPConnection(desc, n.log)
		conn.SetKeepAlive(n.settings.KeepAliveInterval, n.settings.KeepAliveTimeout)
		if err := conn.Listen(n.ctx); err != nil {
			return err
		}
		n.listenMu.Lock()
		n.listeners = append(n.listeners, conn)
		n.listenMu.Unlock()
		n.connSet.Add(conn)
	}
	return nil
}

// ListenerDescriptions returns the bound address of every listener this
// node created through Listen, in the order they were added — useful
// when a ConnectionDescription was configured with Port 0 and the actual
// ephemeral port is only known after binding.
func (n *LocalNode) ListenerDescriptions() []types.ConnectionDescription {
	n.listenMu.Lock()
	defer n.listenMu.Unlock()
	out := make([]types.ConnectionDescription, len(n.listeners))
	for i, l := range n.listeners {
		out[i] = l.Description()
	}
	return out
}

// Connect dials the first reachable description of a remote node, then
// performs the HANDSHAKE exchange before installing the peer. The
// returned Node proxy is also recorded in the node's peer table, where
// SendToPeer and MapObjectNB find it by NodeID.
func (n *LocalNode) Connect(ctx context.Context, descs []types.ConnectionDescription) (*Node, error) {
	var lastErr error
	for _, desc := range descs {
		conn := NewTCPConnection(desc, n.log)
		conn.SetKeepAlive(n.settings.KeepAliveInterval, n.settings.KeepAliveTimeout)
		if err := conn.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		peer, err := n.handshakeOutbound(ctx, conn)
		if err != nil {
			conn.Close()
			n.forgetReader(conn)
			lastErr = err
			continue
		}
		return peer, nil
	}
	if lastErr == nil {
		lastErr = types.ErrConnect
	}
	return nil, lastErr
}

func (n *LocalNode) handshakeOutbound(ctx context.Context, conn Connection) (*Node, error) {
	selfID, _ := n.ID().MarshalBinary()
	b := &SendBuilder{stream: NewDataOStream(), conn: conn, cmdType: types.TypeNode, opcode: types.CmdHandshake}
	b.Bytes(selfID).Uint32(uint32(n.Kind())).String(ProtocolVersion.String())
	if err := b.Flush(); err != nil {
		return nil, errors.Wrap(types.ErrConnect, "send handshake: "+err.Error())
	}

	// Use the persistent per-connection reader from the start, not a
	// throwaway one, so any bytes the peer pipelines after the handshake
	// ack aren't discarded once this call returns. It's briefly bound to
	// the caller's dial context, then handed back to n.ctx once the
	// handshake completes.
	reader := n.readerFor(conn)
	reader.ctx = ctx
	cmdType, opcode, buf, err := readFrame(reader, n.bufferCache)
	if err != nil {
		return nil, errors.Wrap(types.ErrConnect, "read handshake ack: "+err.Error())
	}
	reader.ctx = n.ctx
	defer buf.Release()
	if cmdType != types.TypeNode || opcode != types.CmdHandshakeAck {
		return nil, errors.Wrap(types.ErrProtocol, "unexpected reply to handshake")
	}
	stream, err := DecodeDataStream(buf.Bytes())
	if err != nil {
		return nil, err
	}
	peerID := types.NodeIDFromBytes(stream.ReadBytes())
	peerKind := types.NodeKind(stream.ReadUint32())

	peer := NewNode(peerID, peerKind, []types.ConnectionDescription{conn.Description()})
	peer.setConnection(conn)
	n.installPeer(peer, conn)
	return peer, nil
}

// handshakeInbound completes the receiving side of a handshake on a
// freshly-accepted connection, registering the peer on success.
func (n *LocalNode) handshakeInbound(conn Connection) {
	reader := n.readerFor(conn)
	cmdType, opcode, buf, err := readFrame(reader, n.bufferCache)
	if err != nil {
		n.log.Warnf("handshake read failed: %v", err)
		conn.Close()
		n.forgetReader(conn)
		return
	}
	defer buf.Release()
	if cmdType != types.TypeNode || opcode != types.CmdHandshake {
		n.log.Warnf("expected handshake, got type=%d opcode=%d", cmdType, opcode)
		conn.Close()
		n.forgetReader(conn)
		return
	}
	stream, err := DecodeDataStream(buf.Bytes())
	if err != nil {
		conn.Close()
		n.forgetReader(conn)
		return
	}
	peerID := types.NodeIDFromBytes(stream.ReadBytes())
	peerKind := types.NodeKind(stream.ReadUint32())
	if peerVersion, err := version.NewVersion(stream.ReadString()); err != nil {
		n.log.Warnf("peer %s sent an unparseable protocol version: %v", peerID, err)
	} else if peerVersion.Segments()[0] != ProtocolVersion.Segments()[0] {
		n.log.Warnf("peer %s protocol version %s is incompatible with ours (%s)", peerID, peerVersion, ProtocolVersion)
		conn.Close()
		n.forgetReader(conn)
		return
	}

	selfID, _ := n.ID().MarshalBinary()
	b := &SendBuilder{stream: NewDataOStream(), conn: conn, cmdType: types.TypeNode, opcode: types.CmdHandshakeAck}
	b.Bytes(selfID).Uint32(uint32(n.Kind()))
	if err := b.Flush(); err != nil {
		n.log.Warnf("handshake ack failed: %v", err)
		conn.Close()
		n.forgetReader(conn)
		return
	}

	peer := NewNode(peerID, peerKind, []types.ConnectionDescription{conn.Description()})
	peer.setConnection(conn)
	n.installPeer(peer, conn)
}

// readerFor returns the persistent connReader for conn, creating one on
// first use. A single chunk off conn's Notifier can carry more than one
// frame back-to-back (TCPConnection.pumpRead has no frame awareness), so
// the reader's pending bytes must survive across handleData/handshake
// calls instead of being discarded with a fresh reader each time.
func (n *LocalNode) readerFor(conn Connection) *connReader {
	n.readerMu.Lock()
	defer n.readerMu.Unlock()
	r, ok := n.readers[conn]
	if !ok {
		r = newConnReader(n.ctx, conn)
		n.readers[conn] = r
	}
	return r
}

// forgetReader drops conn's cached reader, e.g. once the connection is
// closed or its handshake failed, so the map doesn't grow unboundedly.
func (n *LocalNode) forgetReader(conn Connection) {
	n.readerMu.Lock()
	delete(n.readers, conn)
	n.readerMu.Unlock()
}

func (n *LocalNode) installPeer(peer *Node, conn Connection) {
	n.peerMu.Lock()
	n.peers[peer.ID()] = peer
	n.connPeer[conn] = peer.ID()
	n.peerMu.Unlock()
	n.connSet.Add(conn)
}

func (n *LocalNode) peer(id types.NodeID) (*Node, bool) {
	n.peerMu.RLock()
	defer n.peerMu.RUnlock()
	p, ok := n.peers[id]
	return p, ok
}

func (n *LocalNode) peerByConn(conn Connection) (types.NodeID, bool) {
	n.peerMu.RLock()
	defer n.peerMu.RUnlock()
	id, ok := n.connPeer[conn]
	return id, ok
}

func (n *LocalNode) removePeerByConn(conn Connection) {
	n.forgetReader(conn)
	n.peerMu.Lock()
	id, ok := n.connPeer[conn]
	delete(n.connPeer, conn)
	if ok {
		delete(n.peers, id)
	}
	n.peerMu.Unlock()
	if ok {
		n.objMu.RLock()
		for _, reg := range n.objects {
			if reg.master == id {
				reg.obj.SetDisconnected()
			}
		}
		n.objMu.RUnlock()
	}
}

// receiverLoop is the single goroutine blocked in ConnectionSet.Select,
// reading frames off data connections, accepting new peers, and
// reacting to disconnects (spec.md section 4.G, 5).
func (n *LocalNode) receiverLoop() {
	for {
		ev := n.connSet.Select(n.ctx, 0)
		switch ev.Kind {
		case EventInterrupt:
			select {
			case <-n.ctx.Done():
				return
			default:
				continue
			}
		case EventError, EventTimeout:
			if n.ctx.Err() != nil {
				return
			}
			continue
		case EventAccept:
			n.handleAccept(ev.Conn)
		case EventData:
			n.handleData(ev.Conn)
		case EventDisconnect:
			n.connSet.Remove(ev.Conn)
			n.removePeerByConn(ev.Conn)
		}
	}
}

func (n *LocalNode) handleAccept(listener Connection) {
	accepted, err := listener.AcceptNonBlocking()
	if err != nil {
		return
	}
	n.invoker.Spawn(func() { n.handshakeInbound(accepted) })
}

func (n *LocalNode) handleData(conn Connection) {
	reader := n.readerFor(conn)
	cmdType, opcode, buf, err := readFrame(reader, n.bufferCache)
	if err != nil {
		n.log.Warnf("frame read failed, closing connection: %v", err)
		conn.Close()
		return
	}
	sender, _ := n.peerByConn(conn)
	cmd := NewCommand(cmdType, opcode, sender, conn, buf)

	queue := n.nodeQueue
	if cmdType == types.TypeObject {
		queue = n.objectQueue
	}
	if err := queue.Push(n.ctx, cmd); err != nil {
		cmd.Release()
	}
}

func (n *LocalNode) commandThread(queue *CommandQueue) {
	for {
		cmd, ok := queue.Pop(n.ctx)
		if !ok {
			return
		}
		if err := n.dispatcher.Dispatch(cmd); err != nil {
			n.log.Debugf("dispatch error: %v", err)
		}
	}
}

func (n *LocalNode) handleObjectCommand(cmd *Command) error {
	defer cmd.Release()
	stream, err := cmd.Stream()
	if err != nil {
		return err
	}
	id := stream.ReadObjectID()
	ver := stream.ReadVersion()

	n.objMu.RLock()
	reg, ok := n.objects[id]
	n.objMu.RUnlock()
	if !ok {
		return errors.Wrapf(types.ErrNotMapped, "object %s", id)
	}
	switch cmd.Opcode {
	case types.CmdObjectDelta:
		return reg.obj.ApplyDelta(stream, ver)
	case types.CmdObjectCommit:
		return reg.obj.ApplyInstanceData(stream, ver)
	default:
		return errors.Wrap(types.ErrProtocol, "unknown object opcode")
	}
}

// RegisterObject assigns obj a fresh identifier and installs it as
// master.
func (n *LocalNode) RegisterObject(obj DistributedObject) types.ObjectID {
	id := types.NewObjectID()
	obj.SetID(id)
	obj.SetRole(types.RoleMaster)
	n.objMu.Lock()
	n.objects[id] = &objectRegistration{obj: obj, master: n.ID(), slaves: make(map[types.NodeID]struct{})}
	n.objMu.Unlock()
	return id
}

// DeregisterObject removes a previously-registered master object.
func (n *LocalNode) DeregisterObject(id types.ObjectID) {
	n.objMu.Lock()
	delete(n.objects, id)
	n.objMu.Unlock()
}

// MapObjectNB sends a MAP_REQUEST to master for identifier and returns a
// request id; MapObjectSync blocks for the reply.
func (n *LocalNode) MapObjectNB(obj DistributedObject, id types.ObjectID, requested types.Version, master types.NodeID) (uint64, error) {
	peer, ok := n.peer(master)
	if !ok {
		return 0, types.ErrNotRegistered
	}
	conn := peer.Connection()
	if conn == nil {
		return 0, types.ErrDisconnected
	}

	reqID := atomic.AddUint64(&n.nextReq, 1)
	ch := make(chan *mapResult, 1)
	n.reqMu.Lock()
	n.pending[reqID] = &pendingMap{ch: ch, obj: obj}
	n.reqMu.Unlock()

	obj.SetID(id)
	obj.SetRole(types.RoleSlave)

	n.objMu.Lock()
	n.objects[id] = &objectRegistration{obj: obj, master: master, slaves: make(map[types.NodeID]struct{})}
	n.objMu.Unlock()

	b := peer.Send(types.TypeNode, types.CmdMapRequest)
	b.ObjectID(id).Uint64(reqID).Uint8(0).Version(requested)
	if err := b.Flush(); err != nil {
		n.reqMu.Lock()
		delete(n.pending, reqID)
		n.reqMu.Unlock()
		return 0, err
	}
	return reqID, nil
}

// MapObjectSync blocks for the MAP_REPLY matching requestID, applying
// the received instance data to the mapped object on success.
func (n *LocalNode) MapObjectSync(ctx context.Context, requestID uint64) error {
	n.reqMu.Lock()
	p, ok := n.pending[requestID]
	n.reqMu.Unlock()
	if !ok {
		return errors.Wrap(types.ErrProtocol, "unknown map request")
	}
	select {
	case res := <-p.ch:
		if !res.ok {
			return types.ErrVersionUnavailable
		}
		return p.obj.ApplyInstanceData(res.stream, res.version)
	case <-ctx.Done():
		n.reqMu.Lock()
		delete(n.pending, requestID)
		n.reqMu.Unlock()
		return ctx.Err()
	}
}

// SyncObject performs a one-shot map-and-apply without retaining the
// mapping: useful for a point-in-time snapshot read.
func (n *LocalNode) SyncObject(ctx context.Context, obj DistributedObject, id types.ObjectID, master types.NodeID) error {
	reqID, err := n.MapObjectNB(obj, id, types.VersionHead, master)
	if err != nil {
		return err
	}
	err = n.MapObjectSync(ctx, reqID)
	n.objMu.Lock()
	delete(n.objects, id)
	n.objMu.Unlock()
	return err
}

// UnmapObject releases a slave's mapping locally and sends the master a
// CmdDisconnect naming the object. The master registers no handler for
// that opcode: it logs the command as unknown and keeps this node in the
// object's slave set.
func (n *LocalNode) UnmapObject(id types.ObjectID) {
	n.objMu.Lock()
	reg, ok := n.objects[id]
	delete(n.objects, id)
	n.objMu.Unlock()
	if !ok {
		return
	}
	if peer, found := n.peer(reg.master); found {
		if conn := peer.Connection(); conn != nil {
			b := peer.Send(types.TypeNode, types.CmdDisconnect)
			b.ObjectID(id)
			_ = b.Flush()
		}
	}
}

func (n *LocalNode) handleMapRequest(cmd *Command) error {
	defer cmd.Release()
	stream, err := cmd.Stream()
	if err != nil {
		return err
	}
	id := stream.ReadObjectID()
	reqID := stream.ReadUint64()
	oneShot := stream.ReadUint8()
	requested := stream.ReadVersion()

	n.objMu.RLock()
	reg, ok := n.objects[id]
	n.objMu.RUnlock()

	if !ok {
		return n.sendMapReply(cmd.Source, id, reqID, false, types.VersionInvalid, nil)
	}
	if peerID, found := n.peerByConn(cmd.Source); found && oneShot == 0 {
		reg.mu.Lock()
		reg.slaves[peerID] = struct{}{}
		reg.mu.Unlock()
	}

	current := reg.obj.Version()
	wantsOlder := !requested.Equal(types.VersionHead) && requested.Less(current)

	if cached, master, cachedVersion, found := n.instanceCache.Lookup(id, requested); found {
		defer n.instanceCache.Release(id, cachedVersion)
		defer cached.Release()
		_ = master
		return n.sendMapReply(cmd.Source, id, reqID, true, cachedVersion, cached.Bytes())
	}
	if wantsOlder {
		// The requested version predates this node's retained window
		// and was not in the InstanceCache: spec.md section 4.H,
		// VERSION_UNAVAILABLE.
		return n.sendMapReply(cmd.Source, id, reqID, false, types.VersionInvalid, nil)
	}

	out := NewDataOStream()
	reg.obj.WriteInstanceData(out)
	return n.sendMapReply(cmd.Source, id, reqID, true, current, out.Bytes())
}

func (n *LocalNode) sendMapReply(conn Connection, id types.ObjectID, reqID uint64, ok bool, ver types.Version, instance []byte) error {
	b := &SendBuilder{stream: NewDataOStream(), conn: conn, cmdType: types.TypeNode, opcode: types.CmdMapReply}
	okByte := uint8(0)
	if ok {
		okByte = 1
	}
	b.ObjectID(id).Uint64(reqID).Uint8(okByte).Version(ver).Bytes(instance)
	return b.Flush()
}

func (n *LocalNode) handleMapReply(cmd *Command) error {
	defer cmd.Release()
	stream, err := cmd.Stream()
	if err != nil {
		return err
	}
	_ = stream.ReadObjectID()
	reqID := stream.ReadUint64()
	ok := stream.ReadUint8() == 1
	ver := stream.ReadVersion()
	data := stream.ReadBytes()

	n.reqMu.Lock()
	p, found := n.pending[reqID]
	delete(n.pending, reqID)
	n.reqMu.Unlock()
	if !found {
		return nil
	}
	masterID, _ := n.peerByConn(cmd.Source)
	p.ch <- &mapResult{ok: ok, version: ver, master: masterID, stream: NewRawDataIStream(data)}
	return nil
}

// Close interrupts the receiver loop, closes every listener and peer
// connection, and waits for every goroutine spawned through this node's
// Invoker to return.
func (n *LocalNode) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		n.connSet.Interrupt()

		n.listenMu.Lock()
		for _, l := range n.listeners {
			l.Close()
		}
		n.listenMu.Unlock()

		n.peerMu.RLock()
		peers := make([]*Node, 0, len(n.peers))
		for _, p := range n.peers {
			peers = append(peers, p)
		}
		n.peerMu.RUnlock()
		for _, p := range peers {
			if c := p.Connection(); c != nil {
				c.Close()
			}
		}

		// The queues are never explicitly closed: Push and Pop both
		// already select on ctx.Done(), which n.cancel() above already
		// triggered, so closing q.ch here would only race a receiver
		// goroutine still blocked inside Push (spec.md section 5 requires
		// the receiver thread to be joined before anything it could still
		// be sending into is torn down).
		n.invoker.Stop()
	})
	return nil
}

// closeTimeout is not used by Close, which waits for every goroutine
// spawned through the node's Invoker, including in-flight handshakes from
// handleAccept, without a time bound.
const closeTimeout = 2 * time.Second
