package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when no pooled connection could be claimed.
	ErrPoolExhausted = errors.New("proxy: connection pool exhausted")
)

// ConnPool is a bounded lock-free bag of backend connections. Acquire and
// Release are wait-free on the common path; Offer and Remove are O(capacity)
// scans. Size counts the connections currently borrowable.
type ConnPool interface {
	// Acquire claims an Idle connection (its state moves to Busy) or
	// returns nil when none could be won.
	Acquire() *Conn
	// Release returns a Busy connection claimed from this pool.
	Release(c *Conn)
	// Offer installs an Idle connection into a free slot.
	Offer(c *Conn) bool
	// Remove detaches c from the pool; c itself is untouched.
	Remove(c *Conn) bool
	Size() int
	Capacity() int
	// Variant names the implementation, for logs and the admin plane.
	Variant() string
	// Close destroys every resident connection and empties the pool.
	Close()
}

// NewConnPool builds the requested pool variant.
func NewConnPool(variant string, capacity int) (ConnPool, error) {
	switch variant {
	case "cas":
		return NewScanCasPool(capacity), nil
	case "ring":
		return NewRingPool(capacity), nil
	default:
		return nil, fmt.Errorf("proxy: unknown pool variant %q", variant)
	}
}

// removedWasBorrowable centralizes the Size bookkeeping shared by both
// variants: a removed connection only counted as borrowable when it was still
// Idle; a Busy/Stale/Destroyed one was already counted out by its acquirer.
func removedWasBorrowable(c *Conn) bool {
	return c.State() == StateIdle
}
