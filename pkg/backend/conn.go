package backend

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/zekkrron/db-connection-pooler/pkg/common"
)

var (
	logger = common.InitLogger().WithName("backend")

	// ErrDirtyIdleConn reports bytes waiting on a connection that should be
	// quiet; the stream is out of sync with the pool's request/reply cycle.
	ErrDirtyIdleConn = errors.New("backend: unexpected bytes on idle connection")
)

// ConnState is the lifecycle state of a pooled backend connection. The state
// word is the sole mechanism that grants exclusive socket ownership: only the
// goroutine that moved Idle->Busy may read or write.
type ConnState uint32

const (
	StateIdle ConnState = iota
	StateBusy
	StateStale
	StateDestroyed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBusy:
		return "BUSY"
	case StateStale:
		return "STALE"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "INVALID"
	}
}

// Conn owns exactly one backend socket plus its atomic state word.
type Conn struct {
	Id      string
	conn    net.Conn
	state   atomic.Uint32
	created time.Time
	addr    string
}

func newConn(nc net.Conn, addr string) *Conn {
	c := &Conn{
		Id:      shortuuid.New(),
		conn:    nc,
		created: time.Now(),
		addr:    addr,
	}
	c.state.Store(uint32(StateIdle))
	return c
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// CreatedAt is the connection's creation instant; time.Time carries the
// monotonic reading, so age checks are immune to wall-clock jumps.
func (c *Conn) CreatedAt() time.Time {
	return c.created
}

func (c *Conn) Addr() string {
	return c.addr
}

// TryAcquire claims exclusive ownership, Idle -> Busy.
func (c *Conn) TryAcquire() bool {
	return c.state.CompareAndSwap(uint32(StateIdle), uint32(StateBusy))
}

// Release gives ownership back, Busy -> Idle.
func (c *Conn) Release() bool {
	return c.state.CompareAndSwap(uint32(StateBusy), uint32(StateIdle))
}

// MarkStale moves Idle or Busy to Stale. Destroyed is absorbing and refuses.
func (c *Conn) MarkStale() bool {
	for {
		cur := c.state.Load()
		switch ConnState(cur) {
		case StateStale:
			return true
		case StateDestroyed:
			return false
		}
		if c.state.CompareAndSwap(cur, uint32(StateStale)) {
			return true
		}
	}
}

// Destroy is terminal. The socket is closed exactly once, by whichever
// caller performs the first transition into Destroyed.
func (c *Conn) Destroy() {
	prev := c.state.Swap(uint32(StateDestroyed))
	if ConnState(prev) == StateDestroyed {
		return
	}
	if closeErr := c.conn.Close(); closeErr != nil {
		logger.V(1).Info("backend connection close", "connId", c.Id, "error", closeErr)
	}
}

// Read forwards to the socket. Caller must hold the Busy transition.
func (c *Conn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write forwards to the socket. Caller must hold the Busy transition.
func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *Conn) RemoteAddr() net.Addr {
	if c.conn != nil {
		return c.conn.RemoteAddr()
	}
	return nil
}

// Probe is the janitor's liveness check: a single one-byte read attempt
// through the raw descriptor that never blocks. It consumes a byte only when
// one is waiting, and such a connection is reported dirty.
// An idle healthy backend has nothing buffered, so "would block" is the good
// outcome; zero bytes means the peer hung up, and actual payload means the
// connection is no longer in request/reply sync and must be retired.
func (c *Conn) Probe() error {
	_ = c.conn.SetDeadline(time.Time{})
	sysConn, ok := c.conn.(syscall.Conn)
	if !ok {
		// In-memory pipes and the like have no descriptor to peek at.
		return nil
	}
	rawConn, err := sysConn.SyscallConn()
	if err != nil {
		return err
	}
	var probeErr error
	ctrlErr := rawConn.Read(func(fd uintptr) bool {
		var peek [1]byte
		n, readErr := syscall.Read(int(fd), peek[:])
		if n > 0 {
			probeErr = ErrDirtyIdleConn
			return true
		}
		switch {
		case readErr == nil:
			probeErr = io.EOF
		case errors.Is(readErr, syscall.EAGAIN), errors.Is(readErr, syscall.EWOULDBLOCK):
			probeErr = nil
		default:
			probeErr = readErr
		}
		return true
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return probeErr
}
