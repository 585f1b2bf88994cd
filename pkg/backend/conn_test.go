package backend

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn builds a pooled connection over an in-memory pipe. The far end is
// returned so tests can drive or drop it.
func pipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	c := newConn(near, "test-backend")
	t.Cleanup(func() {
		c.Destroy()
		_ = far.Close()
	})
	return c, far
}

func TestConnStateLattice(t *testing.T) {
	c, _ := pipeConn(t)

	assert.Equal(t, StateIdle, c.State())
	assert.True(t, c.TryAcquire())
	assert.Equal(t, StateBusy, c.State())
	assert.False(t, c.TryAcquire(), "second acquire must lose")

	assert.True(t, c.Release())
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Release(), "release of an idle conn must fail")

	assert.True(t, c.MarkStale())
	assert.Equal(t, StateStale, c.State())
	assert.True(t, c.MarkStale(), "stale is idempotent")
	assert.False(t, c.TryAcquire(), "stale conn cannot be acquired")

	c.Destroy()
	assert.Equal(t, StateDestroyed, c.State())
	assert.False(t, c.MarkStale(), "destroyed is absorbing")
	assert.False(t, c.TryAcquire())
	assert.False(t, c.Release())
}

func TestConnMarkStaleFromBusy(t *testing.T) {
	c, _ := pipeConn(t)
	require.True(t, c.TryAcquire())
	assert.True(t, c.MarkStale())
	assert.Equal(t, StateStale, c.State())
}

func TestConnDestroyClosesOnce(t *testing.T) {
	near, far := net.Pipe()
	defer far.Close()
	c := newConn(near, "test-backend")

	c.Destroy()
	// A second destroy must not close (or panic on) an already-closed socket.
	c.Destroy()
	assert.Equal(t, StateDestroyed, c.State())

	_, err := near.Write([]byte("x"))
	assert.Error(t, err, "socket must be closed after destroy")
}

func TestConnMutualExclusion(t *testing.T) {
	c, _ := pipeConn(t)

	const workers = 16
	const rounds = 500
	var inCritical atomic.Int32
	var acquired atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if c.TryAcquire() {
					if inCritical.Add(1) != 1 {
						t.Error("two owners inside the critical section")
					}
					acquired.Add(1)
					inCritical.Add(-1)
					if !c.Release() {
						t.Error("release failed for the owner")
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateIdle, c.State())
	assert.Positive(t, acquired.Load())
}
