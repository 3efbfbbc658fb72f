package object

import (
	"context"

	"github.com/eyescale/collage/pkg/collage/core"
	"github.com/eyescale/collage/pkg/collage/types"
)

// LocalNode is the subset of *core.LocalNode the generic helpers in this
// package need, kept as an interface so tests can substitute a fake node
// without pulling in real sockets.
type LocalNode interface {
	core.ObjectHost
	RegisterObject(obj core.DistributedObject) types.ObjectID
	DeregisterObject(id types.ObjectID)
	MapObjectNB(obj core.DistributedObject, id types.ObjectID, requested types.Version, master types.NodeID) (uint64, error)
	MapObjectSync(ctx context.Context, requestID uint64) error
	UnmapObject(id types.ObjectID)
	SyncObject(ctx context.Context, obj core.DistributedObject, id types.ObjectID, master types.NodeID) error
	SendToPeer(peer types.NodeID, cmdType types.CommandType, opcode uint32) (*core.SendBuilder, error)
	Dispatcher() *core.Dispatcher
}

// Register wraps state in a new Object and registers it as master on
// node, returning the live object and its freshly-assigned identifier.
func Register[T Serializable](node LocalNode, state T, changeType types.ChangeType) (*Object[T], types.ObjectID) {
	obj := New[T](node, state, changeType)
	id := node.RegisterObject(obj)
	return obj, id
}

// Map wraps state in a new Object and maps it as a slave of identifier
// on master, blocking until the initial instance data is applied or ctx
// is done.
func Map[T Serializable](ctx context.Context, node LocalNode, state T, changeType types.ChangeType, identifier types.ObjectID, master types.NodeID) (*Object[T], error) {
	obj := New[T](node, state, changeType)
	reqID, err := node.MapObjectNB(obj, identifier, types.VersionHead, master)
	if err != nil {
		return nil, err
	}
	if err := node.MapObjectSync(ctx, reqID); err != nil {
		return nil, err
	}
	return obj, nil
}

// Unmap releases obj's mapping and notifies its master.
func Unmap[T Serializable](node LocalNode, obj *Object[T]) {
	node.UnmapObject(obj.ID())
}

// Snapshot performs a one-shot read of identifier's current state from
// master without retaining a mapping.
func Snapshot[T Serializable](ctx context.Context, node LocalNode, state T, identifier types.ObjectID, master types.NodeID) (*Object[T], error) {
	obj := New[T](node, state, types.Instance)
	if err := node.SyncObject(ctx, obj, identifier, master); err != nil {
		return nil, err
	}
	return obj, nil
}
