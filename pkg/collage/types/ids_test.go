package types

import "testing"

func Test_Version_NextIsStrictlyIncreasing(t *testing.T) {
	v := VersionFirst
	for i := 0; i < 1000; i++ {
		next := v.Next()
		if !v.Less(next) {
			t.Fatalf("expected %v < %v", v, next)
		}
		v = next
	}
}

func Test_Version_MarshalRoundTrip(t *testing.T) {
	v := Version{Hi: 42, Lo: 7}
	got := VersionFromBytes(v.MarshalBinary())
	if !got.Equal(v) {
		t.Fatalf("expected round trip to preserve %v, got %v", v, got)
	}
}

func Test_ObjectVersion_MarshalRoundTrip(t *testing.T) {
	ov := ObjectVersion{Identifier: NewObjectID(), Version: Version{Hi: 1, Lo: 2}}
	b := ov.MarshalBinary()
	if len(b) != 32 {
		t.Fatalf("expected a 32-byte serialized form, got %d", len(b))
	}
	got := ObjectVersionFromBytes(b)
	if !got.Equal(ov) {
		t.Fatalf("expected round trip to preserve %+v, got %+v", ov, got)
	}
}

func Test_ObjectVersion_OrderingIsLexicographic(t *testing.T) {
	a := ObjectID{0x01}
	b := ObjectID{0x02}
	low := ObjectVersion{Identifier: a, Version: VersionHead}
	high := ObjectVersion{Identifier: b, Version: VersionFirst}
	if !low.Less(high) {
		t.Fatalf("expected identifier to be the primary sort key")
	}
}

func Test_NodeID_MarshalRoundTrip(t *testing.T) {
	id := NewNodeID()
	b, err := id.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := NodeIDFromBytes(b)
	if got != id {
		t.Fatalf("expected round trip to preserve %s, got %s", id, got)
	}
}
