package core

import "sync/atomic"

// Buffer is a reference-counted, resizable byte vector. It is the atomic
// unit received from the wire: one frame decodes into exactly one Buffer.
// While its refcount is greater than zero the backing storage is stable;
// when the last reference is released the buffer is returned to its
// originating BufferCache, never to the general allocator (a buffer larger
// than the cache's biggest bucket has no cache and is not pooled). Cloning
// a buffer is a refcount bump, never a copy.
type Buffer struct {
	data  []byte
	refs  int32
	cache *BufferCache
	bucket int
}

// newBuffer allocates a fresh buffer with refcount 1, owned by cache.
func newBuffer(cache *BufferCache, bucket int, size int) *Buffer {
	return &Buffer{
		data:   make([]byte, size),
		refs:   1,
		cache:  cache,
		bucket: bucket,
	}
}

// Bytes returns the buffer's current contents. The slice is only valid
// while the caller holds a reference.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of valid bytes currently held.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Resize grows or shrinks the visible length of the buffer, reusing the
// backing array when it is large enough.
func (b *Buffer) Resize(size int) {
	if cap(b.data) >= size {
		b.data = b.data[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, b.data)
	b.data = grown
}

// Retain bumps the reference count; it must be called by any consumer
// that keeps a Buffer beyond the call that handed it to them (e.g. a
// Dispatcher pushing a Command onto a queue).
func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

// Release drops a reference. When the last reference is dropped the
// buffer is returned to its cache's free list, not freed.
func (b *Buffer) Release() {
	if atomic.AddInt32(&b.refs, -1) == 0 && b.cache != nil {
		b.cache.put(b)
	}
}

// RefCount returns the current reference count, for tests and invariant
// checks only — it is inherently racy against concurrent Release calls.
func (b *Buffer) RefCount() int32 {
	return atomic.LoadInt32(&b.refs)
}
