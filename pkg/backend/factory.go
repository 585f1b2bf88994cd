package backend

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"
)

var (
	defaultDialTimeout  = 3 * time.Second
	defaultRetryElapsed = backoff.WithMaxElapsedTime(30 * time.Second)
)

// Factory opens backend sockets for one endpoint and hands them out Idle.
type Factory struct {
	addr        string
	dialTimeout time.Duration
}

func NewFactory(addr string) *Factory {
	return &Factory{
		addr:        addr,
		dialTimeout: defaultDialTimeout,
	}
}

func (f *Factory) Addr() string {
	return f.addr
}

// Create dials the endpoint and returns an Idle connection. The connect is
// bounded by the dialer timeout; failures propagate to the caller.
func (f *Factory) Create() (*Conn, error) {
	dialer := &net.Dialer{
		Timeout: f.dialTimeout,
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				// Set SO_REUSEADDR to avoid "address already in use" errors
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
					logger.Error(ctrlErr, "Failed to set SO_REUSEADDR")
					return
				}
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
					logger.Error(ctrlErr, "Failed to set SO_REUSEPORT")
					return
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	conn, err := dialer.Dial("tcp", f.addr)
	if err != nil {
		logger.Error(err, "Failed to dial backend", "Addr", f.addr)
		return nil, err
	}
	return newConn(conn, f.addr), nil
}

// CreateRetry re-dials with capped backoff, for startup fills where the
// backend may still be coming up.
func (f *Factory) CreateRetry(ctx context.Context) (*Conn, error) {
	return backoff.Retry[*Conn](ctx, func() (*Conn, error) {
		return f.Create()
	}, defaultRetryElapsed)
}

// FillPool dials until the pool holds capacity connections.
func FillPool(ctx context.Context, pool ConnPool, factory *Factory) error {
	for pool.Size() < pool.Capacity() {
		c, err := factory.CreateRetry(ctx)
		if err != nil {
			return err
		}
		if !pool.Offer(c) {
			c.Destroy()
			return nil
		}
	}
	return nil
}
