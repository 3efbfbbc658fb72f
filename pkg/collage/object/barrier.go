package object

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/core"
	"github.com/eyescale/collage/pkg/collage/types"
)

// barrierState is the Serializable payload a Barrier registers as an
// INSTANCE object purely so its height travels to joiners through the
// ordinary mapping path, and SetHeight's commits reach mapped slaves.
type barrierState struct {
	Height uint32
}

func (b *barrierState) Serialize(out *core.DataOStream) { out.WriteUint32(b.Height) }
func (b *barrierState) Deserialize(in *core.DataIStream) error {
	b.Height = in.ReadUint32()
	return in.Err()
}
func (b *barrierState) SerializeDelta(out *core.DataOStream, _ types.DirtyBits) { out.WriteUint32(b.Height) }
func (b *barrierState) DeserializeDelta(in *core.DataIStream, _ types.DirtyBits) error {
	return b.Deserialize(in)
}

// Barrier is a rendezvous point with a master-held participant count
// (spec.md section 4.J): Enter blocks every caller, on every mapped
// instance, until `height` callers have entered, then releases them
// all at once.
type Barrier struct {
	node     LocalNode
	obj      *Object[*barrierState]
	id       types.ObjectID
	isMaster bool
	master   types.NodeID

	mu      sync.Mutex
	arrived map[types.NodeID]struct{}
	round   chan struct{}
}

var (
	barrierRegistryMu sync.Mutex
	barrierRegistry   = map[LocalNode]map[types.ObjectID]*Barrier{}
)

func registerBarrierDispatch(node LocalNode) {
	barrierRegistryMu.Lock()
	defer barrierRegistryMu.Unlock()
	if _, ok := barrierRegistry[node]; ok {
		return
	}
	barrierRegistry[node] = make(map[types.ObjectID]*Barrier)
	node.Dispatcher().Register(types.TypeNode, types.CmdBarrierEnter, barrierEnterHandler(node))
	node.Dispatcher().Register(types.TypeNode, types.CmdBarrierLeave, barrierLeaveHandler(node))
}

func lookupBarrier(node LocalNode, id types.ObjectID) *Barrier {
	barrierRegistryMu.Lock()
	defer barrierRegistryMu.Unlock()
	return barrierRegistry[node][id]
}

func barrierEnterHandler(node LocalNode) core.CommandFunc {
	return func(cmd *core.Command) error {
		defer cmd.Release()
		stream, err := cmd.Stream()
		if err != nil {
			return err
		}
		id := stream.ReadObjectID()
		b := lookupBarrier(node, id)
		if b == nil {
			return errors.Wrap(types.ErrNotMapped, "barrier enter for unknown barrier")
		}
		b.onEnter(cmd.Sender)
		return nil
	}
}

func barrierLeaveHandler(node LocalNode) core.CommandFunc {
	return func(cmd *core.Command) error {
		defer cmd.Release()
		stream, err := cmd.Stream()
		if err != nil {
			return err
		}
		id := stream.ReadObjectID()
		if b := lookupBarrier(node, id); b != nil {
			b.onLeave()
		}
		return nil
	}
}

// NewBarrier registers a new barrier of the given height, mastered by
// this node.
func NewBarrier(node LocalNode, height uint32) *Barrier {
	registerBarrierDispatch(node)
	obj, id := Register[*barrierState](node, &barrierState{Height: height}, types.Instance)
	b := &Barrier{
		node:     node,
		obj:      obj,
		id:       id,
		isMaster: true,
		master:   node.NodeID(),
		arrived:  make(map[types.NodeID]struct{}),
		round:    make(chan struct{}),
	}
	barrierRegistryMu.Lock()
	barrierRegistry[node][id] = b
	barrierRegistryMu.Unlock()
	return b
}

// JoinBarrier maps an existing barrier by identifier, blocking until its
// height is received.
func JoinBarrier(ctx context.Context, node LocalNode, master types.NodeID, identifier types.ObjectID) (*Barrier, error) {
	registerBarrierDispatch(node)
	obj, err := Map[*barrierState](ctx, node, &barrierState{}, types.Instance, identifier, master)
	if err != nil {
		return nil, err
	}
	b := &Barrier{
		node:    node,
		obj:     obj,
		id:      identifier,
		master:  master,
		arrived: make(map[types.NodeID]struct{}),
		round:   make(chan struct{}),
	}
	barrierRegistryMu.Lock()
	barrierRegistry[node][identifier] = b
	barrierRegistryMu.Unlock()
	return b, nil
}

// ID returns the barrier's object identifier, to be shared out-of-band
// with joiners.
func (b *Barrier) ID() types.ObjectID { return b.id }

// SetHeight changes the number of participants a round requires and
// distributes the change. Master-only.
func (b *Barrier) SetHeight(n uint32) types.Version {
	b.obj.State().Height = n
	return b.obj.Commit()
}

// Sync waits for a slave's local height to catch up to version, per
// spec.md section 4.J ("sync(new_version) must be called on slaves
// before the next enter").
func (b *Barrier) Sync(ctx context.Context, version types.Version) error {
	return b.obj.Sync(ctx, version)
}

// Enter blocks until `height` participants (across this barrier's master
// and every slave that has mapped it) have called Enter for the current
// round, then returns for all of them at once.
func (b *Barrier) Enter(ctx context.Context) error {
	b.mu.Lock()
	round := b.round
	b.mu.Unlock()

	if b.isMaster {
		b.onEnter(b.node.NodeID())
	} else {
		builder, err := b.node.SendToPeer(b.master, types.TypeNode, types.CmdBarrierEnter)
		if err != nil {
			return err
		}
		builder.ObjectID(b.id)
		if err := builder.Flush(); err != nil {
			return err
		}
	}

	select {
	case <-round:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Barrier) onEnter(sender types.NodeID) {
	b.mu.Lock()
	b.arrived[sender] = struct{}{}
	height := int(b.obj.State().Height)
	var old chan struct{}
	if len(b.arrived) >= height {
		old = b.round
		b.round = make(chan struct{})
		b.arrived = make(map[types.NodeID]struct{})
	}
	b.mu.Unlock()
	if old != nil {
		close(old)
		b.broadcastLeave()
	}
}

func (b *Barrier) onLeave() {
	b.mu.Lock()
	old := b.round
	b.round = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

func (b *Barrier) broadcastLeave() {
	for _, conn := range b.node.MappedSlaveConnections(b.id) {
		sb := core.SendOnConnection(conn, types.TypeNode, types.CmdBarrierLeave)
		sb.ObjectID(b.id)
		if err := sb.Flush(); err != nil {
			b.node.Logger().Warnf("barrier leave broadcast failed: %v", err)
		}
	}
}
