package core

import (
	"sync"

	"github.com/eyescale/collage/pkg/collage/types"
)

// instanceEntry is one retained serialized instance of an object at a
// given version (spec.md section 4.I).
type instanceEntry struct {
	version  types.Version
	master   types.NodeID
	buf      *Buffer
	refcount int32
	// seq orders entries by last use (insertion or Lookup) for LRU
	// eviction purposes; lower is less recently used.
	seq uint64
}

// InstanceCache is the process-wide, lock-guarded cache of serialized
// object instance data keyed by object identifier, letting a late-joining
// mapper be served without round-tripping to the master when a suitable
// version was recently committed. Entries are evicted least-recently-used
// first once the cache's total-bytes budget is exceeded, skipping any
// entry whose refcount is still nonzero.
type InstanceCache struct {
	mu        sync.Mutex
	log       types.Logger
	maxBytes  uint64
	usedBytes uint64
	nextSeq   uint64
	byID      map[types.ObjectID][]*instanceEntry
}

// NewInstanceCache returns an empty cache with the given total-bytes
// budget.
func NewInstanceCache(maxBytes uint64, log types.Logger) *InstanceCache {
	return &InstanceCache{
		maxBytes: maxBytes,
		log:      log,
		byID:     make(map[types.ObjectID][]*instanceEntry),
	}
}

// Add stores buf (retained) as the serialized instance data for
// identifier at version, authored by master. It returns false if buf
// alone exceeds the cache's entire budget (nothing is stored in that
// case); otherwise it always succeeds, evicting older zero-refcount
// entries as needed to make room.
func (c *InstanceCache) Add(identifier types.ObjectID, version types.Version, master types.NodeID, buf *Buffer) bool {
	size := uint64(buf.Len())
	if c.maxBytes > 0 && size > c.maxBytes {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(size)

	entry := &instanceEntry{
		version: version,
		master:  master,
		buf:     buf.Retain(),
		seq:     c.nextSeq,
	}
	c.nextSeq++
	c.byID[identifier] = append(c.byID[identifier], entry)
	c.usedBytes += size
	return true
}

// evictLocked frees at least `need` bytes of headroom (best effort — it
// stops once the budget is satisfied or there is nothing left to evict)
// by dropping the least recently used zero-refcount entries across all
// objects.
func (c *InstanceCache) evictLocked(need uint64) {
	if c.maxBytes == 0 {
		return
	}
	for c.usedBytes+need > c.maxBytes {
		var (
			victimID    types.ObjectID
			victimIdx   = -1
			victimEntry *instanceEntry
		)
		for id, entries := range c.byID {
			for i, e := range entries {
				if e.refcount != 0 {
					continue
				}
				if victimEntry == nil || e.seq < victimEntry.seq {
					victimID, victimIdx, victimEntry = id, i, e
				}
			}
		}
		if victimEntry == nil {
			return
		}
		entries := c.byID[victimID]
		entries = append(entries[:victimIdx], entries[victimIdx+1:]...)
		if len(entries) == 0 {
			delete(c.byID, victimID)
		} else {
			c.byID[victimID] = entries
		}
		c.usedBytes -= uint64(victimEntry.buf.Len())
		victimEntry.buf.Release()
	}
}

// Lookup returns the newest retained instance at or below version for
// identifier (version.Equal(types.VersionHead) matches the newest
// unconditionally), bumping its refcount, and reports the exact version
// of the entry it found (which may be older than the one requested). The
// caller must call Release with that returned version, not the one it
// asked for, once done with the buffer.
func (c *InstanceCache) Lookup(identifier types.ObjectID, version types.Version) (*Buffer, types.NodeID, types.Version, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byID[identifier]
	var best *instanceEntry
	for _, e := range entries {
		if !version.Equal(types.VersionHead) && version.Less(e.version) {
			continue
		}
		if best == nil || best.version.Less(e.version) {
			best = e
		}
	}
	if best == nil {
		return nil, types.NodeID{}, types.VersionNone, false
	}
	best.refcount++
	best.seq = c.nextSeq
	c.nextSeq++
	return best.buf.Retain(), best.master, best.version, true
}

// Release gives back the refcount Lookup took for identifier/version.
func (c *InstanceCache) Release(identifier types.ObjectID, version types.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byID[identifier] {
		if e.version.Equal(version) && e.refcount > 0 {
			e.refcount--
			return
		}
	}
}

// Erase drops every retained entry for identifier, returning false
// without changing anything if any entry still has a nonzero refcount.
func (c *InstanceCache) Erase(identifier types.ObjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.byID[identifier]
	for _, e := range entries {
		if e.refcount != 0 {
			return false
		}
	}
	for _, e := range entries {
		c.usedBytes -= uint64(e.buf.Len())
		e.buf.Release()
	}
	delete(c.byID, identifier)
	return true
}
