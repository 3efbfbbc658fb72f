package object_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/eyescale/collage/pkg/collage/collagetest"
	"github.com/eyescale/collage/pkg/collage/core"
	"github.com/eyescale/collage/pkg/collage/object"
	"github.com/eyescale/collage/pkg/collage/types"
)

// stringState is an INSTANCE-change-type test fixture holding a single
// string field.
type stringState struct {
	Value string
}

func (s *stringState) Serialize(out *core.DataOStream) { out.WriteString(s.Value) }
func (s *stringState) Deserialize(in *core.DataIStream) error {
	s.Value = in.ReadString()
	return in.Err()
}
func (s *stringState) SerializeDelta(out *core.DataOStream, _ types.DirtyBits) { s.Serialize(out) }
func (s *stringState) DeserializeDelta(in *core.DataIStream, _ types.DirtyBits) error {
	return s.Deserialize(in)
}

// Test_Object_LateJoinMapsExplicitCachedVersion exercises spec.md section 8
// scenario 3: a node committing V1, V2, V3 and a late mapper that asks for
// V2 explicitly must be served exactly V2's bytes from the InstanceCache,
// not the master's current (V3) state.
func Test_Object_LateJoinMapsExplicitCachedVersion(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	master := collagetest.NewNode(t)
	lateSlave := collagetest.NewNode(t)
	collagetest.Connect(t, lateSlave, master)

	obj, id := object.Register[*stringState](master, &stringState{}, types.Instance)

	obj.State().Value = "v1"
	v1 := obj.Commit()

	obj.State().Value = "v2"
	v2 := obj.Commit()

	obj.State().Value = "v3"
	_ = obj.Commit()

	_ = v1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slaveState := &stringState{}
	slaveObj := object.New[*stringState](lateSlave, slaveState, types.Instance)
	reqID, err := lateSlave.MapObjectNB(slaveObj, id, v2, master.NodeID())
	if err != nil {
		t.Fatalf("map request: %v", err)
	}
	if err := lateSlave.MapObjectSync(ctx, reqID); err != nil {
		t.Fatalf("map sync: %v", err)
	}

	if slaveState.Value != "v2" {
		t.Fatalf("expected the late mapper to receive V2's cached bytes %q, got %q", "v2", slaveState.Value)
	}
}
