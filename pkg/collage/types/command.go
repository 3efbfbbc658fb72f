package types

// CommandType is the outermost routing key of a command: which dispatcher
// table (node layer, object layer or an application-defined custom layer)
// owns the opcode space that follows.
type CommandType uint32

const (
	// TypeNode carries node-layer commands: handshake, mapping, barrier
	// and queue control messages.
	TypeNode CommandType = 0
	// TypeObject carries object-layer commands addressed to a specific
	// registered/mapped object.
	TypeObject CommandType = 1
	// TypeCustom is the base of the application-defined opcode space.
	TypeCustom CommandType = 128
)

// Node-layer opcodes.
const (
	CmdHandshake uint32 = iota
	CmdHandshakeAck
	CmdDisconnect
	CmdMapRequest
	CmdMapReply
	CmdInstance
	CmdObjectPush
	CmdBarrierEnter
	CmdBarrierLeave
	CmdQueueItem
	CmdQueueEmpty
	CmdQueuePop
	CmdCustom
)

// Object-layer opcodes.
const (
	CmdObjectCommit uint32 = iota
	CmdObjectDelta
	CmdObjectSyncRequest
)

// ChangeType selects how an Object's instance data is serialized between
// commits.
type ChangeType uint8

const (
	// Static instance data never changes after registration; commit is a
	// no-op.
	Static ChangeType = iota
	// Instance re-serializes the full instance data on every commit.
	Instance
	// Delta serializes only the subclass-marked dirty bits on commit.
	Delta
	// Unbuffered never retains history on the master; a mapping must
	// always read a fresh commit.
	Unbuffered
)

func (c ChangeType) String() string {
	switch c {
	case Static:
		return "STATIC"
	case Instance:
		return "INSTANCE"
	case Delta:
		return "DELTA"
	case Unbuffered:
		return "UNBUFFERED"
	default:
		return "UNKNOWN"
	}
}

// Role is the part a concrete Object instance plays: authoritative
// (master) or replicated (slave). A detached object has RoleNone.
type Role uint8

const (
	RoleNone Role = iota
	RoleMaster
	RoleSlave
)

// NodeKind lets an application tag what kind of peer connected, carried in
// the handshake payload (co/nodeType.h: NODETYPE_NODE, NODETYPE_USER).
type NodeKind uint32

const (
	NodeKindInvalid NodeKind = 0
	NodeKindPlain   NodeKind = 1
	NodeKindUser    NodeKind = 0x100
)

// DirtyBits is the 64-bit mask a Delta-change-type object uses to mark
// which fields changed since the last commit. Bit 0 (DirtyCustom) is the
// first bit application subclasses may define; DirtyAll forces a full
// resend, used for the initial instance data sent to a new mapper.
type DirtyBits uint64

const (
	DirtyNone   DirtyBits = 0
	DirtyCustom DirtyBits = 1
	DirtyAll    DirtyBits = 0xFFFFFFFFFFFFFFFF
)
