// Package types holds the data model shared by every Collage package:
// identifiers, versions, command types and opcodes, configuration, the
// logger interface and the sentinel error taxonomy. It has no dependency on
// any other Collage package so that core, object and definition can all
// use it without import cycles.
package types

import (
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"
)

// NodeID is the 128-bit globally-unique identity minted for a LocalNode
// when it is created. It is exchanged once, in the handshake; frames on
// the wire do not carry it, so a receiver identifies the sending peer by
// the connection a command arrived on.
type NodeID [16]byte

// NewNodeID mints a fresh, globally-unique node identity.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// IsZero reports whether the id was never assigned.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

// MarshalBinary implements the 16-byte wire representation.
func (id NodeID) MarshalBinary() ([]byte, error) {
	out := make([]byte, 16)
	copy(out, id[:])
	return out, nil
}

// PutBinary writes the id into a caller-supplied 16-byte slice.
func (id NodeID) PutBinary(dst []byte) {
	copy(dst, id[:])
}

// NodeIDFromBytes reads a NodeID from its 16-byte wire representation.
func NodeIDFromBytes(b []byte) NodeID {
	var id NodeID
	copy(id[:], b)
	return id
}

// ObjectID is the 128-bit identifier assigned to a distributed object when
// it is registered on its master LocalNode. It is unique across the mesh
// for the object's lifetime.
type ObjectID [16]byte

// NewObjectID mints a fresh object identifier.
func NewObjectID() ObjectID {
	return ObjectID(uuid.New())
}

// IsZero reports whether the object was never registered (a detached
// object has the zero identifier).
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

func (id ObjectID) String() string {
	return uuid.UUID(id).String()
}

func (id ObjectID) PutBinary(dst []byte) {
	copy(dst, id[:])
}

func ObjectIDFromBytes(b []byte) ObjectID {
	var id ObjectID
	copy(id[:], b)
	return id
}

// Less gives ObjectID a total order, used as a tie-breaker for
// ObjectVersion ordering (lexicographic, matching the original
// Collage co::ObjectVersion::operator<).
func (id ObjectID) Less(other ObjectID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// CustomCommandID is the 128-bit identifier a TypeCustom command carries
// ahead of its payload, distinguishing application command families
// beyond the 32-bit opcode space they all share (co/customCommand.h).
type CustomCommandID [16]byte

// NewCustomCommandID mints a fresh custom-command family identifier.
func NewCustomCommandID() CustomCommandID {
	return CustomCommandID(uuid.New())
}

func (id CustomCommandID) String() string {
	return uuid.UUID(id).String()
}

// Version is the monotonically-increasing, 128-bit version counter carried
// by every distributed object. It is modeled as a (high, low) uint64 pair,
// mirroring the original Collage uint128_t(hi, lo) sentinel values.
type Version struct {
	Hi uint64
	Lo uint64
}

// Sentinel version values, verbatim from the original co/objectVersion.h.
var (
	VersionNone    = Version{0, 0}
	VersionFirst   = Version{0, 1}
	VersionOldest  = Version{0, 0xfffffffffffffffc}
	VersionNext    = Version{0, 0xfffffffffffffffd}
	VersionInvalid = Version{0, 0xfffffffffffffffe}
	VersionHead    = Version{0, 0xffffffffffffffff}
)

// Less gives Version a total order.
func (v Version) Less(other Version) bool {
	if v.Hi != other.Hi {
		return v.Hi < other.Hi
	}
	return v.Lo < other.Lo
}

func (v Version) Equal(other Version) bool {
	return v.Hi == other.Hi && v.Lo == other.Lo
}

// Next returns the next plain version after v, skipping over the
// reserved sentinel range at the top of the low word.
func (v Version) Next() Version {
	if v.Lo+1 >= VersionOldest.Lo && v.Hi == VersionOldest.Hi {
		return Version{v.Hi + 1, 0}
	}
	return Version{v.Hi, v.Lo + 1}
}

func (v Version) String() string {
	switch v {
	case VersionNone:
		return "NONE"
	case VersionFirst:
		return "FIRST"
	case VersionOldest:
		return "OLDEST"
	case VersionNext:
		return "NEXT"
	case VersionInvalid:
		return "INVALID"
	case VersionHead:
		return "HEAD"
	}
	return strconv.FormatUint(v.Hi, 10) + "." + strconv.FormatUint(v.Lo, 10)
}

// MarshalBinary writes the version as 16 bytes, big-endian hi then lo, so
// that ObjectVersion.MarshalBinary can lay identifier and version back to
// back to produce the spec's 32-byte serialized form.
func (v Version) MarshalBinary() []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], v.Hi)
	binary.BigEndian.PutUint64(out[8:16], v.Lo)
	return out
}

func VersionFromBytes(b []byte) Version {
	return Version{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// ObjectVersion bundles an object identifier and version, with a 32-byte
// binary form. Equality and ordering are lexicographic over (identifier,
// version), matching co/objectVersion.h.
type ObjectVersion struct {
	Identifier ObjectID
	Version    Version
}

func (ov ObjectVersion) Equal(other ObjectVersion) bool {
	return ov.Identifier == other.Identifier && ov.Version.Equal(other.Version)
}

func (ov ObjectVersion) Less(other ObjectVersion) bool {
	if ov.Identifier != other.Identifier {
		return ov.Identifier.Less(other.Identifier)
	}
	return ov.Version.Less(other.Version)
}

// MarshalBinary returns the 32-byte wire form: identifier then version.
func (ov ObjectVersion) MarshalBinary() []byte {
	out := make([]byte, 32)
	ov.Identifier.PutBinary(out[0:16])
	copy(out[16:32], ov.Version.MarshalBinary())
	return out
}

func ObjectVersionFromBytes(b []byte) ObjectVersion {
	return ObjectVersion{
		Identifier: ObjectIDFromBytes(b[0:16]),
		Version:    VersionFromBytes(b[16:32]),
	}
}
