package object

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/eyescale/collage/pkg/collage/core"
	"github.com/eyescale/collage/pkg/collage/types"
)

// Object is the concrete, generic distributed object every application
// type wraps its replicated state in (spec.md section 4.H). It is
// parameterized over the Serializable payload type so application code
// never type-asserts its own state back out of an interface{} — this is
// the unification of the original API's separate Distributable and
// Zerobuf object flavors (spec.md Open Question (b)): one generic type
// serving both, selected by which ChangeType the caller picks.
//
// Object implements core.DistributedObject, the narrow interface
// LocalNode uses to drive registered/mapped objects without core
// importing this package back.
type Object[T Serializable] struct {
	mu sync.RWMutex

	id           types.ObjectID
	role         types.Role
	changeType   types.ChangeType
	version      types.Version
	dirty        types.DirtyBits
	disconnected bool

	state T

	host core.ObjectHost
}

// New wraps state as a distributed object using the given change
// strategy. The object is detached (IsAttached reports false) until
// registered or mapped through a LocalNode.
func New[T Serializable](host core.ObjectHost, state T, changeType types.ChangeType) *Object[T] {
	return &Object[T]{
		changeType: changeType,
		version:    types.VersionNone,
		state:      state,
		host:       host,
	}
}

func (o *Object[T]) ID() types.ObjectID          { o.mu.RLock(); defer o.mu.RUnlock(); return o.id }
func (o *Object[T]) SetID(id types.ObjectID)     { o.mu.Lock(); o.id = id; o.mu.Unlock() }
func (o *Object[T]) Role() types.Role            { o.mu.RLock(); defer o.mu.RUnlock(); return o.role }
func (o *Object[T]) SetRole(r types.Role)        { o.mu.Lock(); o.role = r; o.mu.Unlock() }
func (o *Object[T]) ChangeType() types.ChangeType { return o.changeType }
func (o *Object[T]) Version() types.Version      { o.mu.RLock(); defer o.mu.RUnlock(); return o.version }

// State returns the wrapped application state. Mutate it, then call
// MarkDirty (for DELTA objects) and Commit.
func (o *Object[T]) State() T { o.mu.RLock(); defer o.mu.RUnlock(); return o.state }

// MarkDirty ORs bits into the pending commit's dirty mask; a no-op for
// change types other than DELTA.
func (o *Object[T]) MarkDirty(bits types.DirtyBits) {
	if o.changeType != types.Delta {
		return
	}
	o.mu.Lock()
	o.dirty |= bits
	o.mu.Unlock()
}

func (o *Object[T]) IsDirty() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dirty != types.DirtyNone
}

func (o *Object[T]) IsAttached() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.id.IsZero()
}

func (o *Object[T]) IsGood() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.disconnected && !o.id.IsZero()
}

// SetDisconnected marks the object's master unreachable; outstanding and
// future Sync calls fail until re-mapped.
func (o *Object[T]) SetDisconnected() {
	o.mu.Lock()
	o.disconnected = true
	o.mu.Unlock()
}

// WriteInstanceData serializes the object's complete current state —
// called by LocalNode for initial mapping replies.
func (o *Object[T]) WriteInstanceData(out *core.DataOStream) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	o.state.Serialize(out)
}

// ApplyInstanceData replaces the object's state wholesale, used both for
// the initial mapping payload and for every commit under the INSTANCE and
// UNBUFFERED change types (a STATIC commit sends nothing).
func (o *Object[T]) ApplyInstanceData(in *core.DataIStream, version types.Version) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.state.Deserialize(in); err != nil {
		return err
	}
	o.version = version
	return nil
}

// ApplyDelta reads the dirty-bits-prefixed payload a DELTA commit sent
// and merges it into the object's state.
func (o *Object[T]) ApplyDelta(in *core.DataIStream, version types.Version) error {
	dirty := types.DirtyBits(in.ReadUint64())
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.state.DeserializeDelta(in, dirty); err != nil {
		return err
	}
	o.version = version
	return nil
}

// Commit allocates the object's next version and, per its change
// strategy, serializes and distributes the change to every mapped slave
// (spec.md section 4.H):
//
//   - STATIC: a no-op; the version never advances past FIRST.
//   - INSTANCE: the complete state is re-serialized and sent.
//   - DELTA: only the fields marked dirty since the last commit are
//     sent, prefixed by the dirty mask; the very first commit after
//     registration always sends DirtyAll so a fresh slave has a
//     complete base to apply subsequent deltas onto.
//   - UNBUFFERED: identical wire behavior to INSTANCE, but the result is
//     never written to the InstanceCache, so a late mapper is always
//     served the master's current state rather than a cached older one.
func (o *Object[T]) Commit() types.Version {
	o.mu.Lock()
	if o.changeType == types.Static {
		if o.version.Equal(types.VersionNone) {
			o.version = types.VersionFirst
		}
		v := o.version
		o.mu.Unlock()
		return v
	}

	first := o.version.Equal(types.VersionNone)
	next := o.version.Next()
	id := o.id

	var wire *core.DataOStream
	var opcode uint32
	cacheable := o.changeType != types.Unbuffered

	if o.changeType == types.Delta {
		dirty := o.dirty
		if first {
			dirty = types.DirtyAll
		}
		wire = core.NewDataOStream()
		wire.WriteUint64(uint64(dirty))
		o.state.SerializeDelta(wire, dirty)
		opcode = types.CmdObjectDelta
	} else {
		wire = core.NewDataOStream()
		o.state.Serialize(wire)
		opcode = types.CmdObjectCommit
	}

	var full *core.DataOStream
	if cacheable {
		full = core.NewDataOStream()
		o.state.Serialize(full)
	}

	o.version = next
	o.dirty = types.DirtyNone
	o.mu.Unlock()

	o.broadcast(id, next, opcode, wire)
	if full != nil {
		o.cacheInstance(id, next, full)
	}
	return next
}

func (o *Object[T]) broadcast(id types.ObjectID, version types.Version, opcode uint32, fields *core.DataOStream) {
	conns := o.host.MappedSlaveConnections(id)
	if len(conns) == 0 {
		return
	}
	frame := core.NewDataOStream()
	frame.WriteObjectID(id)
	frame.WriteVersion(version)
	frame.WriteRaw(fields.Bytes())
	for _, conn := range conns {
		if err := frame.Flush(conn, types.TypeObject, opcode); err != nil {
			o.host.Logger().Warnf("commit push to a mapped slave failed: %v", err)
		}
	}
}

func (o *Object[T]) cacheInstance(id types.ObjectID, version types.Version, full *core.DataOStream) {
	buf := o.host.BufferCache().Alloc(full.Len())
	copy(buf.Bytes(), full.Bytes())
	o.host.InstanceCache().Add(id, version, o.host.NodeID(), buf)
	buf.Release()
}

// Sync blocks until the object's locally-applied version is at least
// version, per spec.md section 4.H. Since every ApplyInstanceData/
// ApplyDelta call runs on the LocalNode's object-command thread, this is
// a condition-variable-free poll at a fixed interval rather than a blocking
// wait on that thread — acceptable because sync calls come from
// application goroutines, never from the command thread itself.
func (o *Object[T]) Sync(ctx context.Context, version types.Version) error {
	const pollInterval = 2 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		o.mu.RLock()
		reached := !o.version.Less(version)
		disconnected := o.disconnected
		o.mu.RUnlock()
		if reached {
			return nil
		}
		if disconnected {
			return errors.Wrap(types.ErrDisconnected, "object sync")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
