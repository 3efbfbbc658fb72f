package core

import "sync"

// The buckets cover size classes from 64B (1<<6) up to 8MB (1<<23); a
// request larger than the top bucket gets an unpooled, exact-size buffer.
const (
	minBucketShift = 6
	maxBucketShift = 23
)

// BufferCache is a free-list of Buffers bucketed by power-of-two size,
// amortizing allocation on the receiver hot path. Caches are thread-
// affine: a LocalNode allocates one BufferCache per receiver goroutine and
// never shares it, so the free lists need only a mutex sized for local
// contention, not a lock-free structure.
type BufferCache struct {
	mu      sync.Mutex
	buckets [maxBucketShift - minBucketShift + 1][]*Buffer
}

// NewBufferCache constructs an empty cache.
func NewBufferCache() *BufferCache {
	return &BufferCache{}
}

func bucketFor(size int) (shift int, capacity int) {
	shift = minBucketShift
	capacity = 1 << minBucketShift
	for capacity < size && shift < maxBucketShift {
		shift++
		capacity <<= 1
	}
	if capacity < size {
		capacity = size
	}
	return shift, capacity
}

// Alloc returns a Buffer with refcount 1 and length minSize, reusing a
// pooled backing array when one of sufficient capacity is free.
func (c *BufferCache) Alloc(minSize int) *Buffer {
	shift, capacity := bucketFor(minSize)
	idx := shift - minBucketShift
	if idx >= 0 && idx < len(c.buckets) {
		c.mu.Lock()
		bucket := c.buckets[idx]
		if n := len(bucket); n > 0 {
			buf := bucket[n-1]
			c.buckets[idx] = bucket[:n-1]
			c.mu.Unlock()
			buf.refs = 1
			buf.Resize(minSize)
			return buf
		}
		c.mu.Unlock()
		buf := newBuffer(c, idx, capacity)
		buf.data = buf.data[:minSize]
		return buf
	}
	// Larger than any pooled bucket: allocate exact-size, unpooled.
	return &Buffer{data: make([]byte, minSize), refs: 1, cache: nil, bucket: -1}
}

// put returns a zero-refcount buffer to its bucket's free list. Called
// only from Buffer.Release.
func (c *BufferCache) put(b *Buffer) {
	if b.bucket < 0 || b.bucket >= len(c.buckets) {
		return
	}
	c.mu.Lock()
	c.buckets[b.bucket] = append(c.buckets[b.bucket], b)
	c.mu.Unlock()
}

// pooled returns the number of free buffers currently held in bucket's
// free list; used only by tests asserting pool reuse.
func (c *BufferCache) pooled(bucket int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bucket < 0 || bucket >= len(c.buckets) {
		return 0
	}
	return len(c.buckets[bucket])
}
