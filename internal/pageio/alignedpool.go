package pageio

import "sync"

// Aligned scratch buffers are expensive to build correctly (the backing
// array must start on an alignment boundary, which a plain make([]byte, n)
// does not guarantee) and AlignedBlockWriter allocates one per open file, so
// they are pooled by size class the way bytebufferpool pools *bytebuffer.ByteBuffer:
// buffers are bucketed by their rounded-up capacity and reused across Open/Close
// cycles instead of being garbage after every writer is closed.
var alignedPools sync.Map // map[int]*sync.Pool, keyed by capacity

func poolFor(capacity int) *sync.Pool {
	if p, ok := alignedPools.Load(capacity); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{
		New: func() any {
			return makeAligned(capacity)
		},
	}
	actual, _ := alignedPools.LoadOrStore(capacity, p)
	return actual.(*sync.Pool)
}

// acquireAligned returns a buffer of exactly size bytes whose backing array
// starts on an alignment-byte boundary.
func acquireAligned(alignment, size int) []byte {
	buf := poolFor(size).Get().([]byte)
	if cap(buf) < size || addr(buf)%uintptr(alignment) != 0 {
		// Pool held a stale or misaligned buffer (can't happen in practice
		// since the pool is keyed by the exact size used to build it, but
		// guard against future misuse of poolFor with mismatched alignment).
		return makeAlignedTo(alignment, size)
	}
	return buf[:size]
}

func releaseAligned(buf []byte) {
	if buf == nil {
		return
	}
	poolFor(cap(buf)).Put(buf[:cap(buf)])
}

// makeAligned allocates a buffer aligned to a generous 4096-byte boundary,
// sufficient for every sector size AlignedBlockWriter is asked to use in
// practice (4096 and its divisors).
func makeAligned(size int) []byte {
	return makeAlignedTo(4096, size)
}

func makeAlignedTo(alignment, size int) []byte {
	raw := make([]byte, size+alignment)
	offset := 0
	if rem := addr(raw) % uintptr(alignment); rem != 0 {
		offset = int(uintptr(alignment) - rem)
	}
	return raw[offset : offset+size : offset+size]
}
