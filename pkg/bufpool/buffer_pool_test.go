package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolAcquireRelease(t *testing.T) {
	pool, err := NewBufferPool(4, 512)
	require.NoError(t, err)
	defer pool.Close()

	buf := pool.Acquire()
	require.NotNil(t, buf)
	assert.Equal(t, 512, len(buf.B))
	assert.Equal(t, 512, cap(buf.B))

	pool.Release(buf)

	// A balanced acquire/release sequence never loses a buffer.
	seen := make(map[*Buffer]bool)
	for i := 0; i < 4; i++ {
		b := pool.Acquire()
		require.NotNil(t, b)
		assert.False(t, seen[b], "same buffer handed out twice")
		seen[b] = true
	}
	assert.Nil(t, pool.Acquire(), "exhausted pool must return nil")
	for b := range seen {
		pool.Release(b)
	}
	for i := 0; i < 4; i++ {
		require.NotNil(t, pool.Acquire())
	}
}

func TestBufferPoolReleaseWhenFull(t *testing.T) {
	pool, err := NewBufferPool(2, 64)
	require.NoError(t, err)
	defer pool.Close()

	extra := &Buffer{B: make([]byte, 64)}
	// Every slot is occupied; the foreign buffer is silently dropped.
	pool.Release(extra)

	a, b := pool.Acquire(), pool.Acquire()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Nil(t, pool.Acquire())
}

func TestBufferPoolInvalidSizing(t *testing.T) {
	_, err := NewBufferPool(0, 512)
	assert.Error(t, err)
	_, err = NewBufferPool(8, 0)
	assert.Error(t, err)
}

func TestBufferPoolConcurrentChurn(t *testing.T) {
	const workers = 8
	pool, err := NewBufferPool(workers, 128)
	require.NoError(t, err)
	defer pool.Close()

	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 1000; i++ {
				buf := pool.Acquire()
				if buf != nil {
					pool.Release(buf)
				}
			}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}

	// No buffer was lost in the churn.
	for i := 0; i < workers; i++ {
		require.NotNil(t, pool.Acquire(), "buffer %d leaked", i)
	}
}
