// Package bufpool hands out fixed-size read buffers carved from a single
// mmap'd arena. The arena is allocated once at startup and released at
// shutdown; the hot path only swaps slot pointers.
package bufpool

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Buffer is one lease from the pool. B always has len == cap == the pool's
// buffer size; readers fill a prefix and track the byte count themselves.
type Buffer struct {
	B []byte
}

type BufferPool struct {
	arena   []byte
	buffers []Buffer
	slots   []atomic.Pointer[Buffer]
	size    int
}

// NewBufferPool maps an anonymous region of count*size bytes and slices it
// into count buffers, all parked in their slots.
func NewBufferPool(count, size int) (*BufferPool, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("bufpool: invalid sizing %d x %d", count, size)
	}
	arena, err := unix.Mmap(-1, 0, count*size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("bufpool: mmap %d bytes: %w", count*size, err)
	}
	p := &BufferPool{
		arena:   arena,
		buffers: make([]Buffer, count),
		slots:   make([]atomic.Pointer[Buffer], count),
		size:    size,
	}
	for i := 0; i < count; i++ {
		p.buffers[i].B = arena[i*size : (i+1)*size : (i+1)*size]
		p.slots[i].Store(&p.buffers[i])
	}
	return p, nil
}

// Acquire returns a free buffer or nil when every slot is empty. Bounded
// linear scan, no blocking, no allocation.
func (p *BufferPool) Acquire() *Buffer {
	for i := range p.slots {
		if buf := p.slots[i].Swap(nil); buf != nil {
			return buf
		}
	}
	return nil
}

// Release parks buf in the first empty slot. When no slot accepts it the
// buffer is dropped; the pool is sized to cover all in-flight reads, so a
// full pool means buf was not one of ours or was released twice.
func (p *BufferPool) Release(buf *Buffer) {
	if buf == nil {
		return
	}
	for i := range p.slots {
		if p.slots[i].CompareAndSwap(nil, buf) {
			return
		}
	}
}

func (p *BufferPool) Count() int {
	return len(p.slots)
}

func (p *BufferPool) BufferSize() int {
	return p.size
}

// Close unmaps the arena. No buffer may be in use past this point.
func (p *BufferPool) Close() error {
	for i := range p.slots {
		p.slots[i].Store(nil)
	}
	p.buffers = nil
	if p.arena == nil {
		return nil
	}
	arena := p.arena
	p.arena = nil
	return unix.Munmap(arena)
}
