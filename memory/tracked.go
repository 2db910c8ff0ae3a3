// Package memory provides an Arrow allocator that tracks live and peak usage
// of the extraction buffers. The extractor consults it to decide when the
// buffered batch has reached its byte budget, keeping peak memory independent
// of dump size.
package memory

import (
	"sync/atomic"

	"github.com/apache/arrow/go/v17/arrow/memory"
)

// TrackedAllocator wraps an Arrow allocator with usage accounting. All
// counters are updated atomically; the allocator is safe for concurrent use.
type TrackedAllocator struct {
	memory.Allocator
	current int64
	peak    int64
	allocs  int64
	frees   int64
}

// NewTrackedAllocator wraps the standard Go allocator.
func NewTrackedAllocator() *TrackedAllocator {
	return &TrackedAllocator{Allocator: memory.NewGoAllocator()}
}

// Allocate allocates memory with usage tracking.
func (t *TrackedAllocator) Allocate(size int) []byte {
	buf := t.Allocator.Allocate(size)
	if buf != nil {
		atomic.AddInt64(&t.allocs, 1)
		t.add(int64(cap(buf)))
	}
	return buf
}

// Reallocate resizes an allocation with usage tracking.
func (t *TrackedAllocator) Reallocate(size int, buf []byte) []byte {
	oldCap := int64(cap(buf))
	newBuf := t.Allocator.Reallocate(size, buf)
	if newBuf != nil {
		t.add(int64(cap(newBuf)) - oldCap)
	}
	return newBuf
}

// Free releases an allocation with usage tracking.
func (t *TrackedAllocator) Free(buf []byte) {
	if buf != nil {
		atomic.AddInt64(&t.frees, 1)
		t.add(-int64(cap(buf)))
	}
	t.Allocator.Free(buf)
}

func (t *TrackedAllocator) add(delta int64) {
	current := atomic.AddInt64(&t.current, delta)
	for {
		peak := atomic.LoadInt64(&t.peak)
		if current <= peak || atomic.CompareAndSwapInt64(&t.peak, peak, current) {
			return
		}
	}
}

// CurrentAllocated returns the bytes currently live.
func (t *TrackedAllocator) CurrentAllocated() int64 {
	return atomic.LoadInt64(&t.current)
}

// PeakAllocated returns the high-water mark of live bytes.
func (t *TrackedAllocator) PeakAllocated() int64 {
	return atomic.LoadInt64(&t.peak)
}
