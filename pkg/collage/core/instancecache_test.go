package core

import (
	"testing"

	"github.com/eyescale/collage/pkg/collage/definition"
	"github.com/eyescale/collage/pkg/collage/types"
)

func newTestLogger() types.Logger {
	l := definition.NewDefaultLogger("test")
	l.ToggleDebug(false)
	return l
}

func Test_InstanceCache_AddLookupRoundTrip(t *testing.T) {
	cache := NewInstanceCache(0, newTestLogger())
	bufCache := NewBufferCache()

	id := types.NewObjectID()
	master := types.NewNodeID()
	buf := bufCache.Alloc(5)
	copy(buf.Bytes(), []byte("hello"))

	if ok := cache.Add(id, types.VersionFirst, master, buf); !ok {
		t.Fatalf("Add should succeed")
	}
	buf.Release()

	got, gotMaster, gotVersion, found := cache.Lookup(id, types.VersionHead)
	if !found {
		t.Fatalf("expected lookup to find the entry")
	}
	defer got.Release()
	if !gotVersion.Equal(types.VersionFirst) {
		t.Fatalf("expected looked-up version %v, got %v", types.VersionFirst, gotVersion)
	}
	if string(got.Bytes()) != "hello" {
		t.Fatalf("expected bytes %q, got %q", "hello", got.Bytes())
	}
	if gotMaster != master {
		t.Fatalf("expected master %s, got %s", master, gotMaster)
	}
}

func Test_InstanceCache_EraseRequiresZeroRefcount(t *testing.T) {
	cache := NewInstanceCache(0, newTestLogger())
	bufCache := NewBufferCache()

	id := types.NewObjectID()
	buf := bufCache.Alloc(3)
	cache.Add(id, types.VersionFirst, types.NewNodeID(), buf)
	buf.Release()

	_, _, _, found := cache.Lookup(id, types.VersionHead)
	if !found {
		t.Fatalf("expected lookup to find the entry")
	}

	if cache.Erase(id) {
		t.Fatalf("Erase should fail while the lookup's refcount is outstanding")
	}

	cache.Release(id, types.VersionFirst)

	if !cache.Erase(id) {
		t.Fatalf("Erase should succeed once the refcount is released")
	}
	if !cache.Erase(id) {
		t.Fatalf("Erase should be idempotent on an already-erased id")
	}
}

func Test_InstanceCache_EvictsOldestZeroRefcountEntryUnderBudget(t *testing.T) {
	cache := NewInstanceCache(16, newTestLogger())
	bufCache := NewBufferCache()

	id := types.NewObjectID()
	master := types.NewNodeID()

	first := bufCache.Alloc(10)
	cache.Add(id, types.VersionFirst, master, first)
	first.Release()

	second := bufCache.Alloc(10)
	cache.Add(id, types.VersionFirst.Next(), master, second)
	second.Release()

	// The 16-byte budget cannot hold both 10-byte entries; the older one
	// (VersionFirst) must have been evicted to make room. Looking up the
	// exact, non-HEAD old version now misses.
	_, _, _, foundOld := cache.Lookup(id, types.VersionFirst)
	if foundOld {
		t.Fatalf("expected the oldest entry to have been evicted")
	}
	got, _, _, foundNew := cache.Lookup(id, types.VersionHead)
	if !foundNew {
		t.Fatalf("expected the newest entry to remain cached")
	}
	got.Release()
}
