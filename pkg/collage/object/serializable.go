// Package object implements distributed objects on top of core:
// version-tracked, master/slave-replicated application state with four
// change strategies (spec.md section 4.H), an InstanceCache-backed late
// mapping path, and the Barrier and QueueMaster/QueueSlave
// specializations (section 4.J).
package object

import "github.com/eyescale/collage/pkg/collage/core"
import "github.com/eyescale/collage/pkg/collage/types"

// Serializable is implemented by the application state an Object wraps.
// Collage never looks inside it; it only calls these four methods at the
// points spec.md section 4.H calls for (de)serialization.
type Serializable interface {
	// Serialize writes the complete current state.
	Serialize(out *core.DataOStream)

	// Deserialize reads a complete state payload written by Serialize,
	// replacing the receiver's fields.
	Deserialize(in *core.DataIStream) error

	// SerializeDelta writes only the fields named by dirty. Called only
	// for the DELTA change type.
	SerializeDelta(out *core.DataOStream, dirty types.DirtyBits)

	// DeserializeDelta reads a delta payload written by SerializeDelta,
	// updating only the fields named by dirty.
	DeserializeDelta(in *core.DataIStream, dirty types.DirtyBits) error
}
