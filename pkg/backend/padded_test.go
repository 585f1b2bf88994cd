package backend

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestPaddedCounterLayout(t *testing.T) {
	var c PaddedCounter
	assert.GreaterOrEqual(t, unsafe.Sizeof(c), uintptr(2*cacheLineSize),
		"counter must span two cache lines")
	assert.Equal(t, uintptr(cacheLineSize), unsafe.Offsetof(c.v),
		"value must start exactly one cache line in")
}

func TestPaddedCounterMonotonic(t *testing.T) {
	var c PaddedCounter
	assert.Equal(t, uint64(0), c.Next())
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Load())
}

func TestPaddedCounterConcurrent(t *testing.T) {
	var c PaddedCounter
	const workers = 8
	const rounds = 10000
	seen := make([]map[uint64]bool, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		seen[w] = make(map[uint64]bool, rounds)
		wg.Add(1)
		go func(m map[uint64]bool) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				m[c.Next()] = true
			}
		}(seen[w])
	}
	wg.Wait()

	all := make(map[uint64]bool, workers*rounds)
	for _, m := range seen {
		for v := range m {
			assert.False(t, all[v], "sequence %d handed out twice", v)
			all[v] = true
		}
	}
	assert.Len(t, all, workers*rounds)
	assert.Equal(t, uint64(workers*rounds), c.Load())
}
