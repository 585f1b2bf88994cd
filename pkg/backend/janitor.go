package backend

import (
	"context"
	"sync/atomic"
	"time"
)

// Janitor owns the background repair loop for one pool: every interval it
// borrows what it can, age-checks and probes each connection, and swaps dead
// ones for freshly dialed replacements. The hot path is never quiesced; the
// probe window only makes the pool look momentarily smaller to routers.
type Janitor struct {
	pool     ConnPool
	factory  *Factory
	interval time.Duration
	maxIdle  time.Duration
	quit     chan struct{}
	done     chan struct{}
	replaced atomic.Uint64
	sweeps   atomic.Uint64
	// onReplace is an optional observer notified per replacement.
	onReplace func(addr string)
}

func NewJanitor(pool ConnPool, factory *Factory, interval, maxIdle time.Duration) *Janitor {
	return &Janitor{
		pool:     pool,
		factory:  factory,
		interval: interval,
		maxIdle:  maxIdle,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	go j.run()
}

func (j *Janitor) run() {
	defer close(j.done)
	timer := time.NewTimer(j.interval)
	defer timer.Stop()
	for {
		select {
		case <-j.quit:
			return
		case <-timer.C:
			j.Sweep()
			timer.Reset(j.interval)
		}
	}
}

// Sweep runs one full pass, bounded by the pool capacity. Connections are
// handled strictly one at a time, acquire then check then release-or-replace,
// so concurrent routers see the pool shrink by at most one slot. A healthy
// connection released early in the pass may be picked up again before the
// pass ends; the capacity bound still holds.
func (j *Janitor) Sweep() {
	j.sweeps.Add(1)
	var checked, destroyed, replaced int

	for i := 0; i < j.pool.Capacity(); i++ {
		c := j.pool.Acquire()
		if c == nil {
			break
		}
		checked++
		if j.healthy(c) {
			j.pool.Release(c)
			continue
		}
		c.MarkStale()
		c.Destroy()
		j.pool.Remove(c)
		destroyed++
		fresh, err := j.factory.Create()
		if err != nil {
			logger.Error(err, "janitor replacement dial failed", "addr", j.factory.Addr())
			continue
		}
		if !j.pool.Offer(fresh) {
			fresh.Destroy()
			continue
		}
		replaced++
		j.replaced.Add(1)
		if j.onReplace != nil {
			j.onReplace(j.factory.Addr())
		}
	}

	if destroyed > 0 || replaced > 0 {
		logger.Info("janitor sweep",
			"addr", j.factory.Addr(), "checked", checked,
			"destroyed", destroyed, "replaced", replaced,
			"poolSize", j.pool.Size())
	}
}

func (j *Janitor) healthy(c *Conn) bool {
	if j.maxIdle > 0 && time.Since(c.CreatedAt()) > j.maxIdle {
		return false
	}
	return c.Probe() == nil
}

func (j *Janitor) SetOnReplace(fn func(addr string)) {
	j.onReplace = fn
}

func (j *Janitor) Factory() *Factory {
	return j.factory
}

func (j *Janitor) Replaced() uint64 {
	return j.replaced.Load()
}

func (j *Janitor) Sweeps() uint64 {
	return j.sweeps.Load()
}

// Stop flags the loop and waits for it to park, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) {
	close(j.quit)
	select {
	case <-j.done:
	case <-ctx.Done():
		logger.Info("janitor stop timed out", "addr", j.factory.Addr())
	}
}
