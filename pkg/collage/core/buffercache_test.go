package core

import (
	"sync"
	"testing"
)

// Test_BufferCache_ReuseAcrossReaders exercises spec.md section 8 scenario
// 6: allocate/dispatch/release in a loop across M reader "threads" and
// assert the pool reuses backing buffers rather than growing without
// bound.
func Test_BufferCache_ReuseAcrossReaders(t *testing.T) {
	const iterations = 200
	const readers = 4

	cache := NewBufferCache()
	seen := make(map[*Buffer]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations/readers; i++ {
				buf := cache.Alloc(128)
				mu.Lock()
				seen[buf] = struct{}{}
				mu.Unlock()
				buf.Release()
			}
		}()
	}
	wg.Wait()

	// Buffers are thread-affine in real use (one cache per receiver
	// goroutine); sharing one cache across goroutines here only needs to
	// show the free-list is reused, not that any specific count holds,
	// so assert it stays below one distinct buffer per iteration.
	if len(seen) >= iterations {
		t.Fatalf("expected buffer reuse, saw %d distinct buffers across %d allocations", len(seen), iterations)
	}
}

func Test_BufferCache_AllocResizeRoundTrip(t *testing.T) {
	cache := NewBufferCache()
	buf := cache.Alloc(10)
	if buf.Len() != 10 {
		t.Fatalf("expected length 10, got %d", buf.Len())
	}
	copy(buf.Bytes(), []byte("0123456789"))
	buf.Release()

	buf2 := cache.Alloc(10)
	defer buf2.Release()
	if buf2 != buf {
		t.Fatalf("expected the released buffer to be reused for an equal-size request")
	}
}

func Test_BufferCache_RefcountReleaseReturnsToPool(t *testing.T) {
	cache := NewBufferCache()
	buf := cache.Alloc(64)
	buf.Retain()
	if buf.RefCount() != 2 {
		t.Fatalf("expected refcount 2 after Retain, got %d", buf.RefCount())
	}
	buf.Release()
	if cache.pooled(buf.bucket) != 0 {
		t.Fatalf("buffer should not be pooled while a reference remains")
	}
	buf.Release()
	if cache.pooled(buf.bucket) != 1 {
		t.Fatalf("buffer should return to its bucket once the last reference drops")
	}
}
