package backend

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sinkListener accepts and holds backend-side sockets so pooled connections
// stay alive and quiet.
func sinkListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		var held []net.Conn
		defer func() {
			for _, c := range held {
				_ = c.Close()
			}
		}()
		for {
			c, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			held = append(held, c)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-accepted
	})
	return ln
}

func TestJanitorReplacesAgedConnection(t *testing.T) {
	ln := sinkListener(t)
	factory := NewFactory(ln.Addr().String())
	pool := NewScanCasPool(4)
	require.NoError(t, FillPool(context.Background(), pool, factory))
	require.Equal(t, 4, pool.Size())

	// Age one resident connection past the idle ceiling.
	aged := pool.Acquire()
	require.NotNil(t, aged)
	aged.created = time.Now().Add(-10 * time.Minute)
	pool.Release(aged)

	jan := NewJanitor(pool, factory, time.Hour, 5*time.Minute)
	var replacedAddrs []string
	jan.SetOnReplace(func(addr string) { replacedAddrs = append(replacedAddrs, addr) })
	jan.Sweep()

	assert.Equal(t, 4, pool.Size(), "sweep must restore the pool to capacity")
	assert.Equal(t, uint64(1), jan.Replaced())
	assert.Equal(t, []string{ln.Addr().String()}, replacedAddrs)
	assert.Equal(t, StateDestroyed, aged.State())

	// Every resident connection is now young.
	for i := 0; i < 4; i++ {
		c := pool.Acquire()
		require.NotNil(t, c)
		assert.NotSame(t, aged, c)
		assert.Less(t, time.Since(c.CreatedAt()), 5*time.Minute)
	}
}

func TestJanitorReplacesDeadConnection(t *testing.T) {
	ln := sinkListener(t)
	factory := NewFactory(ln.Addr().String())
	pool := NewRingPool(4)
	require.NoError(t, FillPool(context.Background(), pool, factory))

	// Kill one backend socket out from under the pool; the probe's read on
	// the closed socket fails.
	victim := pool.Acquire()
	require.NotNil(t, victim)
	require.NoError(t, victim.conn.Close())
	pool.Release(victim)

	jan := NewJanitor(pool, factory, time.Hour, 0)
	jan.Sweep()

	assert.Equal(t, 4, pool.Size())
	assert.Equal(t, uint64(1), jan.Replaced())
	assert.Equal(t, StateDestroyed, victim.State())
}

func TestJanitorHealthySweepIsQuiet(t *testing.T) {
	ln := sinkListener(t)
	factory := NewFactory(ln.Addr().String())
	pool := NewScanCasPool(2)
	require.NoError(t, FillPool(context.Background(), pool, factory))

	jan := NewJanitor(pool, factory, time.Hour, time.Hour)
	jan.Sweep()

	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, uint64(0), jan.Replaced())
	assert.Equal(t, uint64(1), jan.Sweeps())
}

func TestJanitorStop(t *testing.T) {
	ln := sinkListener(t)
	factory := NewFactory(ln.Addr().String())
	pool := NewScanCasPool(1)
	jan := NewJanitor(pool, factory, 10*time.Millisecond, time.Hour)
	jan.Start()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	jan.Stop(ctx)
	assert.Positive(t, jan.Sweeps())
}
