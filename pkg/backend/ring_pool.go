package backend

import (
	"sync/atomic"
)

// RingPool is the ring-buffer pool variant: a power-of-two slot ring indexed
// by two monotonic sequences, producer for returns and consumer for claims,
// each padded onto its own cache line so the two sides never false-share.
// Both sides are wait-free on the common path.
type RingPool struct {
	consumer PaddedCounter
	producer PaddedCounter
	slots    []atomic.Pointer[Conn]
	mask     uint64
	size     atomic.Int32
}

func NewRingPool(capacity int) *RingPool {
	capacity = nextPowerOfTwo(capacity)
	return &RingPool{
		slots: make([]atomic.Pointer[Conn], capacity),
		mask:  uint64(capacity - 1),
	}
}

// nextPowerOfTwo rounds n up so index math can use seq & mask.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (p *RingPool) Variant() string {
	return "ring"
}

func (p *RingPool) Capacity() int {
	return len(p.slots)
}

func (p *RingPool) Size() int {
	return int(p.size.Load())
}

// Acquire spins the consumer sequence at most capacity times. Each spin swaps
// one slot empty; an extraction that turns out not to be Idle (a racer holds
// it Busy, or the janitor marked it) is pushed back and the scan continues.
func (p *RingPool) Acquire() *Conn {
	for spin := 0; spin <= int(p.mask); spin++ {
		idx := p.consumer.Next() & p.mask
		c := p.slots[idx].Swap(nil)
		if c == nil {
			continue
		}
		if c.TryAcquire() {
			p.size.Add(-1)
			return c
		}
		p.putBack(idx, c)
	}
	return nil
}

// putBack restores an extracted connection, preferring its home slot and
// probing forward when a racer refilled it.
func (p *RingPool) putBack(idx uint64, c *Conn) bool {
	n := uint64(len(p.slots))
	for i := uint64(0); i < n; i++ {
		if p.slots[(idx+i)&p.mask].CompareAndSwap(nil, c) {
			return true
		}
	}
	return false
}

// Release flips the connection Idle and installs it at the producer sequence,
// probing forward on conflict. A completely full ring cannot happen in steady
// state; if it does, the connection is re-claimed so it is never left Idle
// outside the pool, then destroyed.
func (p *RingPool) Release(c *Conn) {
	if c == nil || !c.Release() {
		return
	}
	p.size.Add(1)
	idx := p.producer.Next() & p.mask
	if p.putBack(idx, c) {
		return
	}
	if c.TryAcquire() {
		p.size.Add(-1)
		logger.Info("WARN: ring full on release, destroying connection", "connId", c.Id)
		c.Destroy()
	}
}

// Offer installs an Idle connection with the same primary-slot-then-probe
// discipline as Release.
func (p *RingPool) Offer(c *Conn) bool {
	if c == nil {
		return false
	}
	idx := p.producer.Next() & p.mask
	if p.putBack(idx, c) {
		p.size.Add(1)
		return true
	}
	return false
}

// Remove clears the slot currently holding c. A connection its caller has
// already claimed was swapped out of the ring by Acquire, so Remove finding
// nothing is the expected janitor case.
func (p *RingPool) Remove(c *Conn) bool {
	if c == nil {
		return false
	}
	for i := range p.slots {
		if p.slots[i].Load() == c && p.slots[i].CompareAndSwap(c, nil) {
			if removedWasBorrowable(c) {
				p.size.Add(-1)
			}
			return true
		}
	}
	return false
}

func (p *RingPool) Close() {
	for i := range p.slots {
		if c := p.slots[i].Swap(nil); c != nil {
			if removedWasBorrowable(c) {
				p.size.Add(-1)
			}
			c.Destroy()
		}
	}
}
