package backend

import (
	"sync/atomic"
	"unsafe"
)

const cacheLineSize = 64

// PaddedCounter is a monotonic 64-bit sequence flanked by a full cache line
// of filler before it and the rest of its own line (56 bytes) after it, so
// the ring's producer and consumer counters never
// invalidate each other. Layout is asserted below.
type PaddedCounter struct {
	_ [cacheLineSize]byte
	v atomic.Uint64
	_ [cacheLineSize - unsafe.Sizeof(atomic.Uint64{})]byte
}

// Next returns the pre-increment sequence value.
func (p *PaddedCounter) Next() uint64 {
	return p.v.Add(1) - 1
}

func (p *PaddedCounter) Load() uint64 {
	return p.v.Load()
}

// The counter must span two full cache lines so the value sits alone on its
// own line regardless of the struct's placement.
var _ [unsafe.Sizeof(PaddedCounter{})]byte = [2 * cacheLineSize]byte{}
