package object

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/core"
	"github.com/eyescale/collage/pkg/collage/types"
)

// QueueMaster is a distributed work queue (spec.md section 4.J): each
// pushed item is delivered to exactly one slave's Pop call — whichever
// slave's pop request is outstanding or arrives first once the item is
// available — in master FIFO order. Unlike Barrier and the commit/delta
// Object strategies, a queue item is never broadcast to every mapped
// slave; it is handed to a single consumer, at-most-once.
//
// A queue has no version and is not registered through the object
// registry: it mints its own identifier and is shared out-of-band with
// joiners the same way a Barrier's ID is, since nothing about it needs
// InstanceCache replay or commit versioning.
type QueueMaster struct {
	node LocalNode
	id   types.ObjectID

	mu      sync.Mutex
	items   [][]byte
	waiters []queueWaiter
	closed  bool
}

type queueWaiter struct {
	conn  core.Connection
	reqID uint64
}

var (
	queueMasterMu sync.Mutex
	queueMasters  = map[LocalNode]map[types.ObjectID]*QueueMaster{}

	queueSlaveMu sync.Mutex
	queueSlaves  = map[LocalNode]map[types.ObjectID]*QueueSlave{}

	queueDispatchMu       sync.Mutex
	queueDispatchRegistry = map[LocalNode]bool{}
)

func registerQueueDispatch(node LocalNode) {
	queueDispatchMu.Lock()
	defer queueDispatchMu.Unlock()
	if queueDispatchRegistry[node] {
		return
	}
	queueDispatchRegistry[node] = true
	node.Dispatcher().Register(types.TypeNode, types.CmdQueuePop, queuePopHandler(node))
	node.Dispatcher().Register(types.TypeNode, types.CmdQueueItem, queueItemHandler(node))
	node.Dispatcher().Register(types.TypeNode, types.CmdQueueEmpty, queueEmptyHandler(node))
}

func lookupQueueMaster(node LocalNode, id types.ObjectID) *QueueMaster {
	queueMasterMu.Lock()
	defer queueMasterMu.Unlock()
	return queueMasters[node][id]
}

func lookupQueueSlave(node LocalNode, id types.ObjectID) *QueueSlave {
	queueSlaveMu.Lock()
	defer queueSlaveMu.Unlock()
	return queueSlaves[node][id]
}

func queuePopHandler(node LocalNode) core.CommandFunc {
	return func(cmd *core.Command) error {
		defer cmd.Release()
		stream, err := cmd.Stream()
		if err != nil {
			return err
		}
		id := stream.ReadObjectID()
		reqID := stream.ReadUint64()
		qm := lookupQueueMaster(node, id)
		if qm == nil {
			return errors.Wrapf(types.ErrNotRegistered, "pop request for unknown queue %s", id)
		}
		qm.handlePop(cmd.Source, reqID)
		return nil
	}
}

func queueItemHandler(node LocalNode) core.CommandFunc {
	return func(cmd *core.Command) error {
		defer cmd.Release()
		stream, err := cmd.Stream()
		if err != nil {
			return err
		}
		id := stream.ReadObjectID()
		reqID := stream.ReadUint64()
		data := stream.ReadBytes()
		if qs := lookupQueueSlave(node, id); qs != nil {
			qs.resolve(reqID, append([]byte(nil), data...), true)
		}
		return nil
	}
}

func queueEmptyHandler(node LocalNode) core.CommandFunc {
	return func(cmd *core.Command) error {
		defer cmd.Release()
		stream, err := cmd.Stream()
		if err != nil {
			return err
		}
		id := stream.ReadObjectID()
		reqID := stream.ReadUint64()
		if qs := lookupQueueSlave(node, id); qs != nil {
			qs.resolve(reqID, nil, false)
		}
		return nil
	}
}

// NewQueueMaster creates a new, empty work queue mastered by this node.
// Its ID must be shared out-of-band (e.g. through a Barrier or a
// separately-mapped directory object) with whatever nodes will call
// JoinQueue.
func NewQueueMaster(node LocalNode) *QueueMaster {
	registerQueueDispatch(node)
	qm := &QueueMaster{node: node, id: types.NewObjectID()}
	queueMasterMu.Lock()
	if queueMasters[node] == nil {
		queueMasters[node] = make(map[types.ObjectID]*QueueMaster)
	}
	queueMasters[node][qm.id] = qm
	queueMasterMu.Unlock()
	return qm
}

// ID returns the queue's identifier.
func (qm *QueueMaster) ID() types.ObjectID { return qm.id }

// QueueItemWriter accumulates one queue item's fields; closing it commits
// the item to the master's FIFO, matching spec.md section 4.J's "push()
// returns an output stream whose closing commits one queue item".
type QueueItemWriter struct {
	qm     *QueueMaster
	stream *core.DataOStream
	closed bool
}

// Push begins writing a new queue item.
func (qm *QueueMaster) Push() *QueueItemWriter {
	return &QueueItemWriter{qm: qm, stream: core.NewDataOStream()}
}

func (w *QueueItemWriter) Uint8(v uint8) *QueueItemWriter   { w.stream.WriteUint8(v); return w }
func (w *QueueItemWriter) Uint32(v uint32) *QueueItemWriter { w.stream.WriteUint32(v); return w }
func (w *QueueItemWriter) Uint64(v uint64) *QueueItemWriter { w.stream.WriteUint64(v); return w }
func (w *QueueItemWriter) Version(v types.Version) *QueueItemWriter {
	w.stream.WriteVersion(v)
	return w
}
func (w *QueueItemWriter) Bytes(p []byte) *QueueItemWriter  { w.stream.WriteBytes(p); return w }
func (w *QueueItemWriter) String(s string) *QueueItemWriter { w.stream.WriteString(s); return w }

// Close commits the accumulated item to the queue, delivering it
// immediately to a slave with an outstanding Pop call, or else enqueueing
// it for the next one. Idempotent.
func (w *QueueItemWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.qm.enqueue(w.stream.Bytes())
	return nil
}

func (qm *QueueMaster) enqueue(data []byte) {
	qm.mu.Lock()
	if len(qm.waiters) > 0 {
		next := qm.waiters[0]
		qm.waiters = qm.waiters[1:]
		qm.mu.Unlock()
		qm.deliver(next.conn, next.reqID, data)
		return
	}
	qm.items = append(qm.items, data)
	qm.mu.Unlock()
}

func (qm *QueueMaster) handlePop(conn core.Connection, reqID uint64) {
	qm.mu.Lock()
	if len(qm.items) > 0 {
		data := qm.items[0]
		qm.items = qm.items[1:]
		qm.mu.Unlock()
		qm.deliver(conn, reqID, data)
		return
	}
	if qm.closed {
		qm.mu.Unlock()
		qm.replyEmpty(conn, reqID)
		return
	}
	qm.waiters = append(qm.waiters, queueWaiter{conn: conn, reqID: reqID})
	qm.mu.Unlock()
}

func (qm *QueueMaster) deliver(conn core.Connection, reqID uint64, data []byte) {
	b := core.SendOnConnection(conn, types.TypeNode, types.CmdQueueItem)
	b.ObjectID(qm.id).Uint64(reqID).Bytes(data)
	if err := b.Flush(); err != nil {
		qm.node.Logger().Warnf("queue item delivery failed: %v", err)
	}
}

func (qm *QueueMaster) replyEmpty(conn core.Connection, reqID uint64) {
	b := core.SendOnConnection(conn, types.TypeNode, types.CmdQueueEmpty)
	b.ObjectID(qm.id).Uint64(reqID)
	if err := b.Flush(); err != nil {
		qm.node.Logger().Warnf("queue empty reply failed: %v", err)
	}
}

// Close marks the queue closed: every slave currently blocked in Pop wakes
// with types.ErrClosed. Items already queued (or pushed later) are still
// delivered in FIFO order to later Pop calls; once none remain, every Pop
// gets types.ErrClosed.
func (qm *QueueMaster) Close() {
	qm.mu.Lock()
	qm.closed = true
	waiters := qm.waiters
	qm.waiters = nil
	qm.mu.Unlock()
	for _, w := range waiters {
		qm.replyEmpty(w.conn, w.reqID)
	}
}

// QueueSlave is a consumer handle mapped to a remote QueueMaster.
type QueueSlave struct {
	node   LocalNode
	master types.NodeID
	id     types.ObjectID

	nextReq uint64

	mu      sync.Mutex
	pending map[uint64]chan queueDelivery
}

type queueDelivery struct {
	data []byte
	ok   bool
}

// JoinQueue attaches to a remote queue identified by identifier, mastered
// by master.
func JoinQueue(node LocalNode, master types.NodeID, identifier types.ObjectID) *QueueSlave {
	registerQueueDispatch(node)
	qs := &QueueSlave{
		node:    node,
		master:  master,
		id:      identifier,
		pending: make(map[uint64]chan queueDelivery),
	}
	queueSlaveMu.Lock()
	if queueSlaves[node] == nil {
		queueSlaves[node] = make(map[types.ObjectID]*QueueSlave)
	}
	queueSlaves[node][identifier] = qs
	queueSlaveMu.Unlock()
	return qs
}

func (qs *QueueSlave) resolve(reqID uint64, data []byte, ok bool) {
	qs.mu.Lock()
	ch, found := qs.pending[reqID]
	delete(qs.pending, reqID)
	qs.mu.Unlock()
	if found {
		ch <- queueDelivery{data: data, ok: ok}
	}
}

// Pop blocks until an item is delivered or the queue is closed, in which
// case it returns types.ErrClosed ("fifth pop returns invalid command",
// spec.md section 8 scenario 5).
func (qs *QueueSlave) Pop(ctx context.Context) (*core.DataIStream, error) {
	reqID := atomic.AddUint64(&qs.nextReq, 1)
	ch := make(chan queueDelivery, 1)
	qs.mu.Lock()
	qs.pending[reqID] = ch
	qs.mu.Unlock()

	builder, err := qs.node.SendToPeer(qs.master, types.TypeNode, types.CmdQueuePop)
	if err != nil {
		qs.mu.Lock()
		delete(qs.pending, reqID)
		qs.mu.Unlock()
		return nil, err
	}
	builder.ObjectID(qs.id).Uint64(reqID)
	if err := builder.Flush(); err != nil {
		qs.mu.Lock()
		delete(qs.pending, reqID)
		qs.mu.Unlock()
		return nil, err
	}

	select {
	case d := <-ch:
		if !d.ok {
			return nil, types.ErrClosed
		}
		return core.NewRawDataIStream(d.data), nil
	case <-ctx.Done():
		qs.mu.Lock()
		delete(qs.pending, reqID)
		qs.mu.Unlock()
		return nil, ctx.Err()
	}
}
