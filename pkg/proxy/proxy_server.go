package proxy

import (
	"context"
	"fmt"

	"github.com/panjf2000/gnet/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zekkrron/db-connection-pooler/pkg/backend"
	"github.com/zekkrron/db-connection-pooler/pkg/bufpool"
	"github.com/zekkrron/db-connection-pooler/pkg/common"
	"github.com/zekkrron/db-connection-pooler/pkg/metrics"
	"github.com/zekkrron/db-connection-pooler/pkg/sqlverb"
)

const (
	Banner = `

	 _____  ____    _____
	|  __ \|  _ \  |  __ \
	| |  | | |_) | | |__) | __ _____  ___   _
	| |  | |  _ <  |  ___/ '__/ _ \ \/ / | | |
	| |__| | |_) | | |   | | | (_) >  <| |_| |
	|_____/|____/  |_|   |_|  \___/_/\_\\__, |
	                                     __/ |
	                                    |___/

`
)

var (
	logger = common.InitLogger().WithName("proxy-srv")
)

// ProxyServer is the event-loop core. gnet runs one loop per worker, hands
// accepted sockets out round-robin, and calls OnTraffic on the owning loop
// whenever a client socket turns readable; everything inside a traffic event
// is serial for that client.
type ProxyServer struct {
	gnet.BuiltinEventEngine
	eng               *gnet.Engine
	config            *common.ProxyConfig
	router            *backend.QueryRouter
	buffers           *bufpool.BufferPool
	sessions          *xsync.MapOf[string, *Session]
	metricsMiddleware *metrics.ProxyMetricsMiddleWare
}

func NewProxyServer(config *common.ProxyConfig, router *backend.QueryRouter, buffers *bufpool.BufferPool) *ProxyServer {
	return &ProxyServer{
		config:   config,
		router:   router,
		buffers:  buffers,
		sessions: xsync.NewMapOf[string, *Session](),
	}
}

func (p *ProxyServer) SetMetricsMiddleware(middleware *metrics.ProxyMetricsMiddleWare) {
	p.metricsMiddleware = middleware
}

func (p *ProxyServer) Start() error {
	opts := p.config.GNetOptions()
	opts = append(opts, gnet.WithReuseAddr(true), gnet.WithReusePort(true))
	proxyAddr := fmt.Sprintf("tcp://:%d", p.config.ListenPort)
	logger.Info("Starting proxy", "address", proxyAddr)
	return gnet.Run(p, proxyAddr, opts...)
}

func (p *ProxyServer) OnBoot(eng gnet.Engine) gnet.Action {
	p.eng = &eng
	variant, _ := p.config.PoolVariant()
	logger.Info("Proxy listening",
		"port", p.config.ListenPort,
		"poolVariant", variant,
		"workers", p.config.WorkerCount(),
		"master", p.config.MasterAddr(),
		"replicas", p.config.ReplicaAddrs())
	return gnet.None
}

func (p *ProxyServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	connId := c.RemoteAddr().String()
	p.sessions.Store(connId, NewSession(connId))
	if p.metricsMiddleware != nil {
		p.metricsMiddleware.OnSessionOpen()
	}
	return nil, gnet.None
}

func (p *ProxyServer) OnTraffic(c gnet.Conn) gnet.Action {
	connId := c.RemoteAddr().String()
	sess, ok := p.sessions.Load(connId)
	if !ok {
		return gnet.Close
	}
	if p.metricsMiddleware != nil {
		return p.metricsMiddleware.WrapTraffic(func() gnet.Action {
			return p.onEvent(sess, c)
		})
	}
	return p.onEvent(sess, c)
}

func (p *ProxyServer) onEvent(sess *Session, c gnet.Conn) gnet.Action {
	for c.InboundBuffered() > 0 {
		action, ok := p.handleFrame(sess, c)
		if !ok || action != gnet.None {
			return action
		}
	}
	return gnet.None
}

// handleFrame services one readiness event for one client: borrow a read
// buffer, classify the statement, borrow a backend connection from the
// matching pool, shuttle request and reply, give everything back. The second
// return value is false when the inbound drain loop should stop without
// closing the client.
func (p *ProxyServer) handleFrame(sess *Session, c gnet.Conn) (gnet.Action, bool) {
	buf := p.buffers.Acquire()
	if buf == nil {
		// Out of read buffers; leave the bytes queued, the loop re-notifies.
		logger.Info("WARN: read buffer pool exhausted", "sessionId", sess.Id)
		if p.metricsMiddleware != nil {
			p.metricsMiddleware.TrackError("buffer_exhausted")
		}
		return gnet.None, false
	}
	defer p.buffers.Release(buf)

	n, err := c.Read(buf.B)
	if err != nil || n == 0 {
		return gnet.None, false
	}
	frame := buf.B[:n]

	class := sqlverb.Classify(frame)
	pool := p.router.Pick(class, sess.key)
	if p.metricsMiddleware != nil {
		p.metricsMiddleware.TrackQuery(class)
	}

	bc := pool.Acquire()
	if bc == nil {
		logger.Error(backend.ErrPoolExhausted, "dropping client",
			"sessionId", sess.Id, "class", class.String())
		if p.metricsMiddleware != nil {
			p.metricsMiddleware.TrackError("pool_exhausted")
		}
		sess.phase = PhaseClosing
		return gnet.Close, true
	}

	sess.phase = PhaseAwaitBackendReply
	forward := func() error {
		if err := writeAll(bc, frame); err != nil {
			return err
		}
		m, readErr := bc.Read(buf.B)
		if readErr != nil {
			return readErr
		}
		sess.phase = PhaseStreamingBackendToClient
		if _, writeErr := c.Write(buf.B[:m]); writeErr != nil {
			return writeErr
		}
		return nil
	}
	var forwardErr error
	if p.metricsMiddleware != nil {
		forwardErr = p.metricsMiddleware.WrapForwarding(class, forward)
	} else {
		forwardErr = forward()
	}
	if forwardErr != nil {
		if sess.phase == PhaseAwaitBackendReply {
			// The backend side failed; retire the connection and let the
			// janitor refill the gap.
			logger.Error(forwardErr, "backend I/O failure",
				"sessionId", sess.Id, "connId", bc.Id, "addr", bc.Addr(),
				"unavailable", common.IsBackendUnavailable(forwardErr))
			bc.MarkStale()
			bc.Destroy()
			pool.Remove(bc)
		} else {
			// The client side failed after a good backend exchange.
			pool.Release(bc)
		}
		sess.phase = PhaseClosing
		return gnet.Close, true
	}

	pool.Release(bc)
	sess.phase = PhaseAwaitClientBytes
	return gnet.None, true
}

func writeAll(bc *backend.Conn, b []byte) error {
	for len(b) > 0 {
		n, err := bc.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (p *ProxyServer) OnClose(c gnet.Conn, err error) gnet.Action {
	connId := c.RemoteAddr().String()
	if _, ok := p.sessions.LoadAndDelete(connId); ok {
		if p.metricsMiddleware != nil {
			p.metricsMiddleware.OnSessionClose()
		}
	}
	logger.V(1).Info("proxy closed connection", "connId", connId, "err", err)
	return gnet.Close
}

func (p *ProxyServer) OnShutdown(eng gnet.Engine) {
	if eng.Validate() != nil {
		return
	}
	logger.Info("Proxy is shutting down. cleaning up resources")
	p.sessions.Clear()
}

func (p *ProxyServer) Shutdown(ctx context.Context) {
	if p.eng == nil {
		return
	}
	if err := p.eng.Stop(ctx); err != nil {
		logger.Error(err, "Failed to stop proxy server")
	} else {
		logger.Info("Proxy server stopped")
	}
}
